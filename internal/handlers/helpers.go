package handlers

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

func jsonResp(status int, v any) (events.APIGatewayV2HTTPResponse, error) {
	b, _ := json.Marshal(v)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers: map[string]string{
			"content-type":                "application/json",
			"access-control-allow-origin": "*",
		},
		Body: string(b),
	}, nil
}

func errResp(status int, msg string) (events.APIGatewayV2HTTPResponse, error) {
	return jsonResp(status, map[string]any{
		"error": msg,
	})
}

// rawBody returns the exact request bytes; API Gateway base64-encodes
// binary-flagged payloads. Signature verification needs the raw bytes,
// not a re-serialization.
func rawBody(req events.APIGatewayV2HTTPRequest) []byte {
	if req.IsBase64Encoded {
		if b, err := base64.StdEncoding.DecodeString(req.Body); err == nil {
			return b
		}
	}
	return []byte(req.Body)
}

// header does a case-insensitive lookup; API Gateway lowercases header
// names but tests and local invokes often don't.
func header(req events.APIGatewayV2HTTPRequest, name string) string {
	if v, ok := req.Headers[name]; ok {
		return strings.TrimSpace(v)
	}
	lower := strings.ToLower(name)
	for k, v := range req.Headers {
		if strings.ToLower(k) == lower {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
