package domain

import "errors"

var (
	ErrNotFound  = errors.New("registro nao encontrado")
	ErrDuplicate = errors.New("registro duplicado")
)
