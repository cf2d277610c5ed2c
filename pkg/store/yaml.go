package store

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gostep/pkg/model"
)

// UsersExport is the top-level YAML document for user export.
type UsersExport struct {
	Users []model.User `yaml:"users"`
}

// ExportYAML renders users as YAML.
func ExportYAML(users []model.User) ([]byte, error) {
	data, err := yaml.Marshal(&UsersExport{Users: users})
	if err != nil {
		return nil, fmt.Errorf("store: export yaml: %w", err)
	}
	return data, nil
}

// ImportYAML parses a YAML user export. Usernames are validated and wins must
// be non-negative.
func ImportYAML(data []byte) ([]model.User, error) {
	var doc UsersExport
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("store: parse yaml: %w", err)
	}
	for _, u := range doc.Users {
		if err := model.ValidateUsername(u.Username); err != nil {
			return nil, fmt.Errorf("store: import user %q: %w", u.Username, err)
		}
		if u.Wins < 0 {
			return nil, fmt.Errorf("store: import user %q: negative wins", u.Username)
		}
	}
	return doc.Users, nil
}
