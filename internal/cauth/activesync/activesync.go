// Package activesync implements the two-step write across the OS keychain
// and the on-disk active credential file, with best-effort rollback, and
// the read-side merge that reconciles a keychain-preferred credential with
// richer metadata from disk when their refresh tokens match.
package activesync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agent-island/cauth/internal/cauth/atomicfile"
	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/jsonpath"
)

// Keychain is the capability activesync needs from the keychain adapter.
type Keychain interface {
	Find(ctx context.Context, account string) (string, bool)
	Put(ctx context.Context, data string) error
}

// StoredCredentialFinder scans the account store for a credential whose
// refresh token equals refreshToken, used as the last-resort fallback
// source for the metadata merge in LoadCurrent.
type StoredCredentialFinder func(refreshToken string) ([]byte, bool)

// Sync composes a keychain adapter and the active credential file path.
type Sync struct {
	Keychain       Keychain
	ActiveFilePath string
	FindStored     StoredCredentialFinder
}

// mergeKeys are the fields copied from the fallback source into the
// primary root per spec.md §4.K, when the primary has no value there.
var mergeKeys = []string{"email", "account", "organization", "subscriptionType", "rateLimitTier", "isTeam"}

// SyncActive writes data to the keychain, then to the active file. If the
// file write fails and a previous keychain value existed, it restores that
// previous value (best effort, any rollback error is swallowed) before
// propagating the file write's error.
func (s *Sync) SyncActive(ctx context.Context, data []byte) error {
	previous, hadPrevious := s.Keychain.Find(ctx, "")

	if err := s.Keychain.Put(ctx, string(data)); err != nil {
		return fmt.Errorf("write keychain: %w", err)
	}

	if err := atomicfile.Write(s.ActiveFilePath, data); err != nil {
		if hadPrevious {
			_ = s.Keychain.Put(ctx, previous)
		}
		return fmt.Errorf("write active file: %w", err)
	}

	return nil
}

// LoadCurrent returns the effective active credential bytes: the keychain
// value (merged with file/account-store metadata) when present, otherwise
// the file contents, otherwise absent.
func (s *Sync) LoadCurrent(ctx context.Context) ([]byte, bool, error) {
	fileData, fileExists, err := atomicfile.ReadIfExists(s.ActiveFilePath)
	if err != nil {
		return nil, false, err
	}

	keychainValue, hasKeychain := s.Keychain.Find(ctx, "")
	if !hasKeychain {
		if fileExists {
			return fileData, true, nil
		}
		return nil, false, nil
	}

	keychainBytes := []byte(keychainValue)
	keychainRoot := jsonpath.Parse(keychainBytes)
	if len(keychainRoot) == 0 {
		// Not a JSON object: return as-is per spec.md §4.K.
		return keychainBytes, true, nil
	}

	fallback := s.resolveFallback(keychainBytes, fileData, fileExists)
	merged := mergeMetadata(keychainRoot, fallback)
	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		return keychainBytes, true, nil
	}
	return mergedBytes, true, nil
}

func (s *Sync) resolveFallback(keychainBytes, fileData []byte, fileExists bool) jsonpath.Object {
	keychainCred := credential.Parse(keychainBytes)
	keychainRT, _ := keychainCred.RefreshToken()

	if fileExists {
		fileCred := credential.Parse(fileData)
		if fileRT, ok := fileCred.RefreshToken(); ok && fileRT == keychainRT {
			return jsonpath.Parse(fileData)
		}
	}

	if s.FindStored != nil && keychainRT != "" {
		if data, ok := s.FindStored(keychainRT); ok {
			return jsonpath.Parse(data)
		}
	}

	if fileExists {
		return jsonpath.Parse(fileData)
	}
	return jsonpath.Object{}
}

// mergeMetadata copies mergeKeys from fallback's root object into a copy of
// primary's root wherever primary has no value (absent or null), and
// separately copies mergeKeys from fallback's claudeAiOauth sub-object into
// primary's claudeAiOauth sub-object the same way — mirroring the original's
// merge_claude_metadata_value, which sources each level from its own level
// in fallback rather than flattening fallback's root into primary's
// sub-object. claudeAiOauth is always materialized on the result, even when
// neither side had one.
func mergeMetadata(primary, fallback jsonpath.Object) jsonpath.Object {
	merged := cloneObject(primary)

	var primaryOauth jsonpath.Object
	if sub, ok := merged["claudeAiOauth"].(map[string]interface{}); ok {
		primaryOauth = cloneObject(sub)
	} else {
		primaryOauth = jsonpath.Object{}
	}

	var fallbackOauth jsonpath.Object
	if sub, ok := fallback["claudeAiOauth"].(map[string]interface{}); ok {
		fallbackOauth = sub
	}

	for _, key := range mergeKeys {
		if fallbackVal, ok := fallback[key]; ok && isAbsentOrNull(merged[key]) {
			merged[key] = fallbackVal
		}
		if fallbackVal, ok := fallbackOauth[key]; ok && isAbsentOrNull(primaryOauth[key]) {
			primaryOauth[key] = fallbackVal
		}
	}

	merged["claudeAiOauth"] = primaryOauth
	return merged
}

func isAbsentOrNull(v interface{}) bool {
	return v == nil
}

func cloneObject(o jsonpath.Object) jsonpath.Object {
	out := make(jsonpath.Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}
