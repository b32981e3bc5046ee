// Package schema loads store and index declarations from CUE.
//
// A schema file declares stores under "store" and member indexes under
// "index":
//
//	store: Group: {}
//	store: GroupMember: {
//		dependencies: ["Group"]
//		required: ["groupId", "userId"]
//		fields: {groupId: int, userId: int}
//	}
//	index: members: {parent: "Group", child: "GroupMember", key: "groupId", secondary: "userId"}
//
// Field kinds come from the CUE type: string, int, bool, lists and
// structs. Floats are rejected. Custom event handlers are Go code and are
// attached to the result with Attach.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/value"
)

// Result holds the declarations found in a schema.
type Result struct {
	Schemas []store.Schema // declaration order
	Indexes []registry.IndexDecl
	Fetch   map[string]store.FetchPolicy
	Files   int // .cue files read, 0 for Compile
}

// LoadDir loads every .cue file of the package in dir.
func LoadDir(dir string) (*Result, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fromCUE(ErrCodeLoadFailed, "", inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	res, err := FromValue(v)
	if err != nil {
		return nil, err
	}
	res.Files = len(files)
	return res, nil
}

// Compile loads a schema from source. filename is used in positions.
func Compile(filename string, src []byte) (*Result, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return FromValue(v)
}

// FromValue extracts declarations from an evaluated CUE value.
func FromValue(v cue.Value) (*Result, error) {
	if err := v.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, "", err)
	}
	if err := v.Validate(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, "", err)
	}

	res := &Result{Fetch: make(map[string]store.FetchPolicy)}

	iter, err := v.Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, "", err)
	}
	for iter.Next() {
		switch iter.Label() {
		case "store":
			if err := res.parseStores(iter.Value()); err != nil {
				return nil, err
			}
		case "index":
			if err := res.parseIndexes(iter.Value()); err != nil {
				return nil, err
			}
		default:
			return nil, unknownField(iter.Value(), iter.Label())
		}
	}
	return res, nil
}

// Attach registers a custom event handler on a declared store.
func (r *Result) Attach(storeName, event string, h store.CustomHandler) error {
	for i := range r.Schemas {
		if r.Schemas[i].Name != storeName {
			continue
		}
		if r.Schemas[i].Custom == nil {
			r.Schemas[i].Custom = make(map[string]store.CustomHandler)
		}
		r.Schemas[i].Custom[event] = h
		return nil
	}
	return &store.ConfigError{Code: store.ErrCodeUnknownStore, Store: storeName, Message: fmt.Sprintf("cannot attach %q: store not declared", event)}
}

// Options returns the registry options for the declared indexes, plus a
// fetch policy per store that declares one when f is non-nil.
func (r *Result) Options(f store.Fetcher) []registry.Option {
	opts := []registry.Option{registry.WithIndexes(r.Indexes...)}
	if f == nil {
		return opts
	}
	for _, s := range r.Schemas {
		if policy, ok := r.Fetch[s.Name]; ok {
			opts = append(opts, registry.WithFetchPolicy(s.Name, policy, f))
		}
	}
	return opts
}

func (r *Result) parseStores(v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return fromCUE(ErrCodeInvalidValue, "store", err)
	}
	for iter.Next() {
		name := iter.Label()
		s, policy, err := parseStore(name, iter.Value())
		if err != nil {
			return err
		}
		r.Schemas = append(r.Schemas, s)
		if policy != nil {
			r.Fetch[name] = *policy
		}
	}
	return nil
}

func parseStore(name string, v cue.Value) (store.Schema, *store.FetchPolicy, error) {
	s := store.Schema{Name: name}
	var policy *store.FetchPolicy
	path := "store." + name

	iter, err := v.Fields()
	if err != nil {
		return s, nil, fromCUE(ErrCodeInvalidValue, path, err)
	}
	for iter.Next() {
		label := iter.Label()
		fv := iter.Value()
		switch label {
		case "dependencies":
			if s.Dependencies, err = stringList(fv, path+".dependencies"); err != nil {
				return s, nil, err
			}
		case "required":
			if s.Required, err = stringList(fv, path+".required"); err != nil {
				return s, nil, err
			}
		case "fields":
			if s.Fields, err = parseFields(fv, path+".fields"); err != nil {
				return s, nil, err
			}
		case "awaitSnapshot":
			if s.AwaitSnapshot, err = fv.Bool(); err != nil {
				return s, nil, fromCUE(ErrCodeInvalidValue, path+".awaitSnapshot", err)
			}
		case "fetch":
			p, err := parseFetch(fv, path+".fetch")
			if err != nil {
				return s, nil, err
			}
			policy = &p
		default:
			return s, nil, unknownField(fv, path+"."+label)
		}
	}
	return s, policy, nil
}

func parseFields(v cue.Value, path string) (map[string]value.Kind, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, fromCUE(ErrCodeInvalidValue, path, err)
	}
	fields := make(map[string]value.Kind)
	for iter.Next() {
		label := iter.Label()
		kind, err := kindOf(iter.Value(), path+"."+label)
		if err != nil {
			return nil, err
		}
		fields[label] = kind
	}
	return fields, nil
}

// kindOf converts a CUE type to a field kind. Floats are forbidden.
func kindOf(v cue.Value, path string) (value.Kind, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return value.KindString, nil
	case cue.IntKind:
		return value.KindInt, nil
	case cue.BoolKind:
		return value.KindBool, nil
	case cue.ListKind:
		return value.KindArray, nil
	case cue.StructKind:
		return value.KindObject, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &LoadError{Code: ErrCodeInvalidType, Path: path, Message: "float types are not supported, use int", Pos: v.Pos()}
	default:
		return "", &LoadError{Code: ErrCodeInvalidType, Path: path, Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()), Pos: v.Pos()}
	}
}

func parseFetch(v cue.Value, path string) (store.FetchPolicy, error) {
	var p store.FetchPolicy
	iter, err := v.Fields()
	if err != nil {
		return p, fromCUE(ErrCodeInvalidValue, path, err)
	}
	for iter.Next() {
		label := iter.Label()
		fv := iter.Value()
		switch label {
		case "batchSize":
			n, err := fv.Int64()
			if err != nil {
				return p, fromCUE(ErrCodeInvalidValue, path+".batchSize", err)
			}
			if n <= 0 {
				return p, &LoadError{Code: ErrCodeInvalidValue, Path: path + ".batchSize", Message: "must be positive", Pos: fv.Pos()}
			}
			p.BatchSize = int(n)
		case "timeout":
			s, err := fv.String()
			if err != nil {
				return p, fromCUE(ErrCodeInvalidValue, path+".timeout", err)
			}
			d, err := time.ParseDuration(s)
			if err != nil || d <= 0 {
				return p, &LoadError{Code: ErrCodeInvalidValue, Path: path + ".timeout", Message: fmt.Sprintf("invalid duration %q", s), Pos: fv.Pos()}
			}
			p.Timeout = d
		case "endpoint":
			if p.Endpoint, err = fv.String(); err != nil {
				return p, fromCUE(ErrCodeInvalidValue, path+".endpoint", err)
			}
		default:
			return p, unknownField(fv, path+"."+label)
		}
	}
	return p, nil
}

func (r *Result) parseIndexes(v cue.Value) error {
	iter, err := v.Fields()
	if err != nil {
		return fromCUE(ErrCodeInvalidValue, "index", err)
	}
	for iter.Next() {
		name := iter.Label()
		path := "index." + name
		decl := registry.IndexDecl{Name: name}

		fields, err := iter.Value().Fields()
		if err != nil {
			return fromCUE(ErrCodeInvalidValue, path, err)
		}
		for fields.Next() {
			label := fields.Label()
			fv := fields.Value()

			var target *string
			switch label {
			case "parent":
				target = &decl.Parent
			case "child":
				target = &decl.Child
			case "key":
				target = &decl.Key
			case "secondary":
				target = &decl.Secondary
			case "orphans":
				target = &decl.Orphans
			default:
				return unknownField(fv, path+"."+label)
			}
			s, err := fv.String()
			if err != nil {
				return fromCUE(ErrCodeInvalidValue, path+"."+label, err)
			}
			*target = s
		}
		r.Indexes = append(r.Indexes, decl)
	}
	return nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, fromCUE(ErrCodeInvalidValue, path, err)
	}
	out := []string{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, fromCUE(ErrCodeInvalidValue, path, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func unknownField(v cue.Value, path string) error {
	return &LoadError{Code: ErrCodeUnknownField, Path: path, Message: "unknown field", Pos: v.Pos()}
}

// findCUEFiles returns the .cue files directly in dir. Subdirectories
// are separate CUE packages and are not loaded.
func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
