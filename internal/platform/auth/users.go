package auth

import (
	"encoding/json"
	"fmt"
	"os"
)

// Credential is one entry of the fixed user directory.
type Credential struct {
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Directory maps username to credential. It is loaded once at startup and
// treated as immutable for the process lifetime.
type Directory map[string]Credential

// DefaultDirectory returns the built-in reception-desk user table, used when
// no USERS_FILE is configured.
func DefaultDirectory() Directory {
	return Directory{
		"admin": {Password: "senha123", Name: "Administrador do Sistema", Role: RoleAdmin},
		"neto":  {Password: "protocolo", Name: "Neto Buim", Role: RoleUser},
		"tuca":  {Password: "tuca", Name: "Tuca da Silva", Role: RoleUser},
	}
}

// LoadDirectory reads a JSON user directory from path.
func LoadDirectory(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file %s: %w", path, err)
	}
	var dir Directory
	if err := json.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	for username, cred := range dir {
		if cred.Role != RoleAdmin && cred.Role != RoleUser {
			return nil, fmt.Errorf("user %q: role must be %q or %q, got %q",
				username, RoleAdmin, RoleUser, cred.Role)
		}
	}
	return dir, nil
}

// Authenticate validates a username/password pair against the directory.
func (d Directory) Authenticate(username, password string) (Identity, bool) {
	cred, ok := d[username]
	if !ok || cred.Password != password {
		return Identity{}, false
	}
	return Identity{Username: username, Name: cred.Name, Role: cred.Role}, true
}
