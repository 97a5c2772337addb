package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tensorzero/tensorzero-sub009/model"
)

// ErrAPIKeyLocation is returned when an api_key_location string fails to
// parse or its referenced source cannot be read.
type ErrAPIKeyLocation struct {
	Raw    string
	Reason string
}

func (e *ErrAPIKeyLocation) Error() string {
	return fmt.Sprintf("gwconfig: api_key_location %q: %s", e.Raw, e.Reason)
}

// ResolveAPIKeyLocation parses one of the six api_key_location forms
// (env(VARNAME), path(FILEPATH), dynamic(KEYNAME), file_contents(literal),
// sdk, none) and resolves it into a model.Credentials. defaultEnvVar is
// consulted when raw is empty, matching every provider's documented
// fallback to its own default API key environment variable.
func ResolveAPIKeyLocation(raw, defaultEnvVar string) (model.Credentials, error) {
	if raw == "" {
		if defaultEnvVar == "" {
			return model.NoneCredentials{}, nil
		}
		raw = "env(" + defaultEnvVar + ")"
	}

	switch {
	case raw == "sdk":
		return model.SDKCredentials{}, nil
	case raw == "none":
		return model.NoneCredentials{}, nil
	case strings.HasPrefix(raw, "env("):
		name, ok := unwrapCall(raw, "env(")
		if !ok {
			return nil, &ErrAPIKeyLocation{Raw: raw, Reason: "malformed env(...) form"}
		}
		v, ok := os.LookupEnv(name)
		if !ok {
			return nil, &ErrAPIKeyLocation{Raw: raw, Reason: fmt.Sprintf("environment variable %q is not set", name)}
		}
		return model.StaticCredentials{Bytes: []byte(v)}, nil
	case strings.HasPrefix(raw, "path("):
		path, ok := unwrapCall(raw, "path(")
		if !ok {
			return nil, &ErrAPIKeyLocation{Raw: raw, Reason: "malformed path(...) form"}
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &ErrAPIKeyLocation{Raw: raw, Reason: fmt.Sprintf("reading %q: %v", path, err)}
		}
		return model.StaticCredentials{Bytes: []byte(strings.TrimSpace(string(b)))}, nil
	case strings.HasPrefix(raw, "dynamic("):
		name, ok := unwrapCall(raw, "dynamic(")
		if !ok {
			return nil, &ErrAPIKeyLocation{Raw: raw, Reason: "malformed dynamic(...) form"}
		}
		return model.DynamicCredentials{KeyName: name}, nil
	case strings.HasPrefix(raw, "file_contents("):
		literal, ok := unwrapCall(raw, "file_contents(")
		if !ok {
			return nil, &ErrAPIKeyLocation{Raw: raw, Reason: "malformed file_contents(...) form"}
		}
		return model.StaticCredentials{Bytes: []byte(literal)}, nil
	default:
		return nil, &ErrAPIKeyLocation{Raw: raw, Reason: "unrecognized form; want env(...)|path(...)|dynamic(...)|file_contents(...)|sdk|none"}
	}
}

// gcpServiceAccountKeyJSON is the subset of a GCP service-account JSON key
// file's fields this gateway needs to mint a self-signed JWT.
type gcpServiceAccountKeyJSON struct {
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
}

// ParseGCPServiceAccount decodes a GCP service-account JSON key (the file
// downloaded from the GCP console) into a model.GCPServiceAccount, stamping
// tokenAudience (the vertexgemini adapter's self-signed-JWT audience) onto
// the result. Called when a vertexgemini provider's resolved credentials
// are StaticCredentials carrying a raw service-account key instead of a
// bare API key string.
func ParseGCPServiceAccount(raw []byte, tokenAudience string) (*model.GCPServiceAccount, error) {
	var key gcpServiceAccountKeyJSON
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("gwconfig: parse gcp service account key: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("gwconfig: gcp service account key missing client_email or private_key")
	}
	return &model.GCPServiceAccount{
		ClientEmail:   key.ClientEmail,
		PrivateKeyID:  key.PrivateKeyID,
		PrivateKeyPEM: []byte(key.PrivateKey),
		TokenAudience: tokenAudience,
	}, nil
}

// unwrapCall extracts the argument of a "prefix<arg>)" string, e.g.
// unwrapCall("env(OPENAI_API_KEY)", "env(") == ("OPENAI_API_KEY", true).
func unwrapCall(raw, prefix string) (string, bool) {
	if !strings.HasPrefix(raw, prefix) || !strings.HasSuffix(raw, ")") {
		return "", false
	}
	arg := strings.TrimSuffix(strings.TrimPrefix(raw, prefix), ")")
	if arg == "" {
		return "", false
	}
	return arg, true
}
