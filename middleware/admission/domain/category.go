package domain

import (
	"fmt"
	"strings"
)

// Category é o tipo (fechado) de uma operação de automação.
//
// Cada categoria pertence a uma Class, usada para escolher o timeout padrão.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryMacroCreate
	CategoryMacroDelete
	CategoryMacroModify
	CategoryMacroExecute
	CategoryFileRead
	CategoryFileWrite
	CategoryScriptExecute
	CategorySystemControl
	CategoryNetworkRequest
)

// Categories lista todas as categorias válidas, em ordem estável.
var Categories = []Category{
	CategoryMacroCreate,
	CategoryMacroDelete,
	CategoryMacroModify,
	CategoryMacroExecute,
	CategoryFileRead,
	CategoryFileWrite,
	CategoryScriptExecute,
	CategorySystemControl,
	CategoryNetworkRequest,
}

var categoryNames = map[Category]string{
	CategoryMacroCreate:    "macro_create",
	CategoryMacroDelete:    "macro_delete",
	CategoryMacroModify:    "macro_modify",
	CategoryMacroExecute:   "macro_execute",
	CategoryFileRead:       "file_read",
	CategoryFileWrite:      "file_write",
	CategoryScriptExecute:  "script_execute",
	CategorySystemControl:  "system_control",
	CategoryNetworkRequest: "network_request",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "unknown"
}

// Valid informa se c é uma das categorias declaradas.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

// Class agrupa categorias para timeout padrão e rate limit por chamador.
type Class string

const (
	ClassMacro   Class = "macro"
	ClassFile    Class = "file"
	ClassScript  Class = "script"
	ClassSystem  Class = "system"
	ClassNetwork Class = "network"
)

// Class retorna a classe de timeout da categoria.
func (c Category) Class() Class {
	switch c {
	case CategoryMacroCreate, CategoryMacroDelete, CategoryMacroModify, CategoryMacroExecute:
		return ClassMacro
	case CategoryFileRead, CategoryFileWrite:
		return ClassFile
	case CategoryScriptExecute:
		return ClassScript
	case CategorySystemControl:
		return ClassSystem
	case CategoryNetworkRequest:
		return ClassNetwork
	default:
		return ""
	}
}

// ParseClass converte o nome textual (ex: "script") em Class.
func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case ClassMacro, ClassFile, ClassScript, ClassSystem, ClassNetwork:
		return c, nil
	}
	return "", fmt.Errorf("unknown category class %q", s)
}

// ParseCategory converte o nome textual (ex: "macro_create") em Category.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c, n := range categoryNames {
		if n == s {
			return c, nil
		}
	}
	return CategoryUnknown, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ConflictTable é a tabela de adjacência (simétrica) de categorias que nunca
// podem estar em execução ao mesmo tempo.
type ConflictTable map[Category]map[Category]struct{}

// NewConflictTable monta uma tabela simétrica a partir de pares.
func NewConflictTable(pairs ...[2]Category) ConflictTable {
	t := make(ConflictTable)
	for _, p := range pairs {
		t.add(p[0], p[1])
		t.add(p[1], p[0])
	}
	return t
}

func (t ConflictTable) add(a, b Category) {
	set, ok := t[a]
	if !ok {
		set = make(map[Category]struct{})
		t[a] = set
	}
	set[b] = struct{}{}
}

// Conflicts informa se a e b são mutuamente exclusivas.
func (t ConflictTable) Conflicts(a, b Category) bool {
	if t == nil {
		return false
	}
	_, ok := t[a][b]
	return ok
}

// DefaultConflicts: create/delete/modify sobre macros se excluem mutuamente.
func DefaultConflicts() ConflictTable {
	return NewConflictTable(
		[2]Category{CategoryMacroCreate, CategoryMacroDelete},
		[2]Category{CategoryMacroCreate, CategoryMacroModify},
		[2]Category{CategoryMacroDelete, CategoryMacroModify},
	)
}
