// Package scope translates abstract search scopes into predicate fragments
// for the search SQL. Exactly one mode applies per query; a missing mode
// means the whole vault.
package scope

import (
	"fmt"
	"strings"
)

// Kind enumerates the scope modes.
type Kind string

const (
	KindVault       Kind = "vault"
	KindInFile      Kind = "inFile"
	KindInFolder    Kind = "inFolder"
	KindLimitIDsSet Kind = "limitIdsSet"
)

// Scope narrows which documents a search may return.
type Scope struct {
	Kind       Kind
	FilePath   string   // required for inFile
	FolderPath string   // required for inFolder
	IDs        []string // required for limitIdsSet; embedding ids
}

// Vault returns the unconstrained scope.
func Vault() Scope { return Scope{Kind: KindVault} }

// InFile scopes to a single document path.
func InFile(path string) Scope { return Scope{Kind: KindInFile, FilePath: path} }

// InFolder scopes to a folder and everything beneath it.
func InFolder(folder string) Scope { return Scope{Kind: KindInFolder, FolderPath: folder} }

// LimitIDs scopes to a fixed set of embedding ids.
func LimitIDs(ids []string) Scope { return Scope{Kind: KindLimitIDsSet, IDs: ids} }

// Normalize maps a zero scope onto vault.
func (s Scope) Normalize() Scope {
	if s.Kind == "" {
		s.Kind = KindVault
	}
	return s
}

// Predicate renders the SQL fragment for the KNN join, where alias d is
// doc_meta and alias e is embedding. Vault yields an empty fragment.
func (s Scope) Predicate() (fragment string, args []any, err error) {
	switch s.Normalize().Kind {
	case KindVault:
		return "", nil, nil

	case KindInFile:
		if s.FilePath == "" {
			return "", nil, fmt.Errorf("inFile scope requires a file path")
		}
		return "d.path = ?", []any{s.FilePath}, nil

	case KindInFolder:
		if s.FolderPath == "" {
			return "", nil, fmt.Errorf("inFolder scope requires a folder path")
		}
		folder := strings.TrimSuffix(s.FolderPath, "/")
		return "(d.path = ? OR d.path LIKE ?)", []any{folder, folder + "/%"}, nil

	case KindLimitIDsSet:
		if len(s.IDs) == 0 {
			return "", nil, fmt.Errorf("limitIdsSet scope requires at least one id")
		}
		placeholders := strings.Repeat("?,", len(s.IDs))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(s.IDs))
		for i, id := range s.IDs {
			args[i] = id
		}
		return "e.id IN (" + placeholders + ")", args, nil

	default:
		return "", nil, fmt.Errorf("unknown scope kind %q", s.Kind)
	}
}

// MatchesPath reports whether a document path satisfies the scope. The
// keyword branch filters its hits with this; limitIdsSet cannot be decided
// by path and returns false so only the vector branch contributes.
func (s Scope) MatchesPath(path string) bool {
	switch s.Normalize().Kind {
	case KindVault:
		return true
	case KindInFile:
		return path == s.FilePath
	case KindInFolder:
		folder := strings.TrimSuffix(s.FolderPath, "/")
		return path == folder || strings.HasPrefix(path, folder+"/")
	default:
		return false
	}
}
