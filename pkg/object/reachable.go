package object

import (
	"fmt"
)

// ReachableSet returns all object IDs reachable from roots by following
// object references. Missing roots are ignored. Objects in stop and
// everything reachable only through them are excluded.
func (s *Store) ReachableSet(roots []ID, stop map[ID]struct{}) (map[ID]struct{}, error) {
	out := make(map[ID]struct{}, len(roots))
	stack := make([]ID, 0, len(roots))
	for _, r := range roots {
		if !r.IsZero() {
			stack = append(stack, r)
		}
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := out[id]; ok {
			continue
		}
		if _, ok := stop[id]; ok {
			continue
		}
		if !s.Exists(id) {
			continue
		}
		out[id] = struct{}{}

		obj, err := s.read(id)
		if err != nil {
			return nil, fmt.Errorf("reachable set read %s: %w", id, err)
		}
		refs, err := References(obj, s.algo.Size())
		if err != nil {
			return nil, fmt.Errorf("reachable set parse %s (%s): %w", id, obj.Type, err)
		}
		stack = append(stack, refs...)
	}
	return out, nil
}

// References lists the IDs an object points at directly. Gitlink entries
// are skipped because the commits they name live in another repository.
func References(obj *RawObject, idSize int) ([]ID, error) {
	switch obj.Type {
	case TypeBlob:
		return nil, nil
	case TypeTag:
		tag, err := UnmarshalTag(obj.Data)
		if err != nil {
			return nil, err
		}
		return []ID{tag.Target}, nil
	case TypeCommit:
		c, err := UnmarshalCommit(obj.Data)
		if err != nil {
			return nil, err
		}
		refs := make([]ID, 0, 1+len(c.Parents))
		refs = append(refs, c.Tree)
		refs = append(refs, c.Parents...)
		return refs, nil
	case TypeTree:
		t, err := UnmarshalTree(obj.Data, idSize)
		if err != nil {
			return nil, err
		}
		refs := make([]ID, 0, len(t.Entries))
		for _, e := range t.Entries {
			if e.Mode == ModeSubmodule {
				continue
			}
			refs = append(refs, e.ID)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unsupported object type %s", obj.Type)
	}
}
