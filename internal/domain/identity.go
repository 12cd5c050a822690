package domain

import "time"

// Kind separa los almacenes de identidades: usuarios finales y administradores.
type Kind string

const (
	KindUser  Kind = "user"
	KindAdmin Kind = "admin"
)

func (k Kind) Valid() bool {
	return k == KindUser || k == KindAdmin
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RoleFor devuelve el rol por defecto de un Kind.
func RoleFor(kind Kind) Role {
	if kind == KindAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Identity es un principal con credenciales. PasswordHash nunca se serializa.
type Identity struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Verified     bool      `json:"verified"`
	Bio          string    `json:"bio"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdentityView es la vista saneada que se adjunta al request y se devuelve al cliente.
type IdentityView struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`
	Bio      string `json:"bio"`
}

func (i Identity) View() IdentityView {
	return IdentityView{
		ID:       i.ID,
		Kind:     i.Kind,
		Username: i.Username,
		Email:    i.Email,
		Role:     i.Role,
		Verified: i.Verified,
		Bio:      i.Bio,
	}
}

// ProfileUpdate contiene los campos editables por el propio usuario.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

func (p ProfileUpdate) Empty() bool {
	return p.Username == nil && p.Bio == nil
}
