package prefs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

const formFile = "form.json"

// Form is what the transfer form remembers between runs. Amounts are never
// stored.
type Form struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver,omitempty"`
}

func formPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "dotsend")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, formFile), nil
}

func SaveForm(f Form) error {
	path, err := formPath()
	if err != nil {
		return err
	}
	f.Sender = strings.TrimSpace(f.Sender)
	f.Receiver = strings.TrimSpace(f.Receiver)
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadForm() (Form, error) {
	path, err := formPath()
	if err != nil {
		return Form{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Form{}, nil
		}
		return Form{}, err
	}
	var f Form
	if err := json.Unmarshal(data, &f); err != nil {
		return Form{}, err
	}
	return f, nil
}
