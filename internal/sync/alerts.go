package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSAPI is the slice of the SNS client the notifier uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier publishes operator notifications. Every method is a no-op
// when its topic isn't configured; notification failures are logged
// and swallowed; they never fail a sync.
type Notifier struct {
	SNS             SNSAPI
	FailureTopicArn string
	PurgeTopicArn   string
	Log             *zap.Logger
}

func NewNotifierFromEnv(client SNSAPI, log *zap.Logger) *Notifier {
	return &Notifier{
		SNS:             client,
		FailureTopicArn: strings.TrimSpace(os.Getenv("SYNC_ALERTS_TOPIC_ARN")),
		PurgeTopicArn:   strings.TrimSpace(os.Getenv("UNINSTALL_TOPIC_ARN")),
		Log:             log,
	}
}

// SyncFailed alerts operators about a failed credit sync. A store-level
// topic overrides the global one.
func (n *Notifier) SyncFailed(ctx context.Context, storeTopicArn, shop, orderID, errMsg string) {
	if n == nil || n.SNS == nil {
		return
	}
	topic := strings.TrimSpace(storeTopicArn)
	if topic == "" {
		topic = n.FailureTopicArn
	}
	if topic == "" {
		return
	}

	subject := fmt.Sprintf("Loyalty sync failed (%s)", shop)
	body := fmt.Sprintf("Shop: %s\nOrder: %s\nError: %s", shop, orderID, errMsg)

	if _, err := n.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
	}); err != nil && n.Log != nil {
		n.Log.Warn("failed to publish sync alert", zap.String("shop", shop), zap.Error(err))
	}
}

type purgeMessage struct {
	Shop string `json:"shop"`
}

// StorePurgeRequested fans the uninstall out to the purge worker via
// the SNS-to-SQS subscription.
func (n *Notifier) StorePurgeRequested(ctx context.Context, shop string) error {
	if n == nil || n.SNS == nil || n.PurgeTopicArn == "" {
		return nil
	}

	b, _ := json.Marshal(purgeMessage{Shop: shop})
	_, err := n.SNS.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.PurgeTopicArn),
		Message:  aws.String(string(b)),
	})
	return err
}
