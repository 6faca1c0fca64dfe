package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindDaemon = "linkd"
	KindClient = "linkctl"
)

// Template renders the defaults of kind as a commented TOML file.
func Template(kind string) (string, error) {
	var doc any
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindDaemon:
		doc = daemonFileFrom(DefaultDaemon())
	case KindClient:
		doc = clientFileFrom(DefaultClient())
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("render %s config: %w", kind, err)
	}
	return buf.String(), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
