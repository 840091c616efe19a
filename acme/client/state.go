package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/avazar/letsencrypt-aw/acme/keys"
)

// stateFile is the serialized form of the client's durable protocol state:
// the directory it registered against, the account keypair and the account
// URL. The nonce is deliberately absent: it is single-use and a fresh one is
// fetched at the start of every run.
type stateFile struct {
	DirectoryURL   string   `json:"directoryUrl"`
	AccountURL     string   `json:"accountUrl,omitempty"`
	Contact        []string `json:"contact,omitempty"`
	AccountKey     []byte   `json:"accountKey"`
	AccountKeyType string   `json:"accountKeyType"`
}

// SaveState persists the client's account identity to the given file path so
// a later run can reuse the registration instead of creating a new account.
func SaveState(path string, c *Client) error {
	keyBytes, keyType, err := keys.MarshalSigner(c.Account.Signer)
	if err != nil {
		return err
	}

	frozen := stateFile{
		DirectoryURL:   c.DirectoryURL.String(),
		AccountURL:     c.Account.ID,
		Contact:        c.Account.Contact,
		AccountKey:     keyBytes,
		AccountKeyType: keyType,
	}
	frozenBytes, err := json.MarshalIndent(frozen, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, frozenBytes, 0600)
}

// LoadState restores an account identity previously saved with SaveState into
// the client. The state must have been saved against the same directory URL:
// account URLs are meaningless across ACME servers.
//
// A missing state file is returned as-is (check with os.IsNotExist) so
// callers can fall back to registering a fresh account.
func LoadState(path string, c *Client) error {
	frozenBytes, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var frozen stateFile
	if err := json.Unmarshal(frozenBytes, &frozen); err != nil {
		return fmt.Errorf("state file %q was invalid JSON: %w", path, err)
	}

	if frozen.DirectoryURL != c.DirectoryURL.String() {
		return fmt.Errorf(
			"state file %q was saved for directory %q, client uses %q",
			path, frozen.DirectoryURL, c.DirectoryURL.String())
	}

	signer, err := keys.UnmarshalSigner(frozen.AccountKey, frozen.AccountKeyType)
	if err != nil {
		return fmt.Errorf("state file %q held an unusable account key: %w", path, err)
	}

	c.Account.ID = frozen.AccountURL
	c.Account.Signer = signer
	if len(frozen.Contact) > 0 {
		c.Account.Contact = frozen.Contact
	}
	return nil
}
