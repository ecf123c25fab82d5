package repo

import (
	"fmt"
	"strings"

	"github.com/odvcencio/vcscore/pkg/object"
	"github.com/odvcencio/vcscore/pkg/refs"
)

// CreateTag creates a lightweight tag refs/tags/<name> pointing at the
// commit rev resolves to.
func (r *Repository) CreateTag(name, rev string, force bool) (*refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full, err := tagRef(name)
	if err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}
	id, err := r.resolveRevision(rev)
	if err != nil {
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}
	ref, err := r.refs.Create(full, id, force, "tag: "+name)
	if err != nil {
		return nil, fmt.Errorf("create tag %q: %w", name, err)
	}
	return ref, nil
}

// CreateAnnotatedTag writes a tag object for the commit rev resolves to
// and points refs/tags/<name> at it. A nil tagger uses the configured
// user.
func (r *Repository) CreateAnnotatedTag(name, rev string, tagger *object.Signature, message string, force bool) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full, err := tagRef(name)
	if err != nil {
		return object.ID{}, fmt.Errorf("create annotated tag: %w", err)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return object.ID{}, fmt.Errorf("create annotated tag %q: message is required", name)
	}
	target, err := r.resolveRevision(rev)
	if err != nil {
		return object.ID{}, fmt.Errorf("create annotated tag %q: %w", name, err)
	}
	sig, err := r.signature(tagger)
	if err != nil {
		return object.ID{}, fmt.Errorf("create annotated tag %q: %w", name, err)
	}

	tagID, err := r.store.WriteTag(&object.Tag{
		Target:     target,
		TargetType: object.TypeCommit,
		Name:       refs.ShortName(full),
		Tagger:     sig,
		Message:    message + "\n",
	})
	if err != nil {
		return object.ID{}, fmt.Errorf("create annotated tag %q: write tag object: %w", name, err)
	}
	if _, err := r.refs.Create(full, tagID, force, "tag: "+name); err != nil {
		return object.ID{}, fmt.Errorf("create annotated tag %q: %w", name, err)
	}
	return tagID, nil
}

// DeleteTag removes refs/tags/<name> and returns what it pointed at.
func (r *Repository) DeleteTag(name string) (object.ID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	full, err := tagRef(name)
	if err != nil {
		return object.ID{}, fmt.Errorf("delete tag: %w", err)
	}
	id, err := r.refs.Delete(full)
	if err != nil {
		return object.ID{}, fmt.Errorf("delete tag %q: %w", name, err)
	}
	return id, nil
}

// Tags lists tag references in name order.
func (r *Repository) Tags() ([]refs.Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.refs.List(refs.Tags)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return list, nil
}

func tagRef(name string) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), refs.TagsPrefix)
	if name == "" {
		return "", fmt.Errorf("tag name is required")
	}
	full := refs.TagName(name)
	if err := refs.ValidateName(full); err != nil {
		return "", err
	}
	return full, nil
}
