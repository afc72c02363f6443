package router

import "github.com/hatago/hatago-hub/internal/upstream"

// Parameter validation happens before any upstream is touched:
// tools/call, resources/read, and prompts/get fail with invalid-input
// rather than generating upstream traffic when required fields are
// missing or malformed.

func validateCallTool(name string) error {
	if name == "" {
		return upstream.NewError("tools/call", upstream.KindInvalidInput, "", errMissingField("name"))
	}
	return nil
}

func validateReadResource(uri string) error {
	if uri == "" {
		return upstream.NewError("resources/read", upstream.KindInvalidInput, "", errMissingField("uri"))
	}
	return nil
}

func validateGetPrompt(name string, args map[string]string) error {
	if name == "" {
		return upstream.NewError("prompts/get", upstream.KindInvalidInput, "", errMissingField("name"))
	}
	_ = args // already typed map[string]string by the caller; nothing further to check
	return nil
}

type missingFieldError string

func (e missingFieldError) Error() string { return "missing required field: " + string(e) }

func errMissingField(field string) error { return missingFieldError(field) }
