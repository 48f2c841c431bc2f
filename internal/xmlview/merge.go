// ABOUTME: Merges plugin extension fragments into base XML view documents.
// ABOUTME: Elements match by name (or type for rows); overwrite="true" replaces, otherwise children merge or append.

package xmlview

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/beevik/etree"

	"github.com/2389/dinamic/internal/overlay"
)

// containerTags merge with each other even without an identity attribute.
var containerTags = map[string]bool{
	"columns": true,
	"modals":  true,
	"rows":    true,
}

var errNoRoot = errors.New("document has no root element")

// LoadError reports a base or extension document that could not be parsed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load xml %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Load reads and parses an XML document.
func Load(path string) (*etree.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return Parse(path, data)
}

// Parse parses an in-memory document. name is used in errors.
func Parse(name string, data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	if err := checkWellFormed(doc); err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	return doc, nil
}

// checkWellFormed rejects what the tokenizer lets through: text or a second
// element at the top level and repeated attributes on one element.
func checkWellFormed(doc *etree.Document) error {
	var root *etree.Element
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			if root != nil {
				return fmt.Errorf("second top-level element <%s> after <%s>", t.FullTag(), root.FullTag())
			}
			root = t
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return fmt.Errorf("text outside the root element: %q", strings.TrimSpace(t.Data))
			}
		}
	}
	if root == nil {
		return errNoRoot
	}
	return checkAttributes(root)
}

func checkAttributes(el *etree.Element) error {
	seen := make(map[string]bool, len(el.Attr))
	for _, attr := range el.Attr {
		key := attr.FullKey()
		if seen[key] {
			return fmt.Errorf("duplicate attribute %s on <%s>", key, el.FullTag())
		}
		seen[key] = true
	}
	for _, child := range el.ChildElements() {
		if err := checkAttributes(child); err != nil {
			return err
		}
	}
	return nil
}

// Merge applies the extensions to a copy of base, in order, and returns the
// copy. Later extensions see the result of earlier ones. base is not modified.
func Merge(base *etree.Document, extensions ...*etree.Document) *etree.Document {
	merged := base.Copy()
	for _, ext := range extensions {
		mergeElement(merged.Root(), ext.Root())
	}
	return merged
}

// MergeFiles loads the base document and every extension, then merges them.
// Any load failure aborts the merge and names the offending file; nothing is
// applied from a later extension once an earlier one fails.
func MergeFiles(basePath string, extensionPaths []string) (*etree.Document, error) {
	base, err := Load(basePath)
	if err != nil {
		return nil, err
	}
	exts := make([]*etree.Document, 0, len(extensionPaths))
	for _, p := range extensionPaths {
		ext, err := Load(p)
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
	}
	return Merge(base, exts...), nil
}

// Write serializes doc with stable indentation, creating parent directories.
func Write(doc *etree.Document, path string) error {
	doc.Indent(4)
	data, err := doc.WriteToBytes()
	if err != nil {
		return &overlay.WriteError{Path: path, Err: err}
	}
	return overlay.WriteFile(path, data)
}

// mergeElement merges the children of ext into source.
//
// For each extension child, num counts the source children sharing its tag up
// to and including the matched one. On overwrite, num selects the element to
// replace among the same-tag descendants of source in document order; the
// replacement only happens when that element is a direct child of source.
func mergeElement(source, ext *etree.Element) {
	for _, extChild := range ext.ChildElements() {
		num := -1
		found := false

		for _, child := range source.ChildElements() {
			if child.FullTag() == extChild.FullTag() {
				num++
			}
			if !allowMerge(child, extChild) {
				continue
			}

			found = true
			if isOverwrite(extChild) {
				target := child
				if positional := nthDirectChild(source, extChild.FullTag(), num); positional != nil {
					target = positional
				}
				replaceChild(source, target, extChild.Copy())
			} else {
				mergeElement(child, extChild)
			}
			break
		}

		if found {
			continue
		}
		if isOverwrite(extChild) {
			if target := nthDirectChild(source, extChild.FullTag(), num); target != nil {
				replaceChild(source, target, extChild.Copy())
				continue
			}
		}
		source.AddChild(extChild.Copy())
	}
}

// allowMerge reports whether source and ext describe the same element.
// Rows are identified by type, everything else by name; the first identity
// attribute present on both sides decides. Containers merge regardless.
func allowMerge(source, ext *etree.Element) bool {
	if source.FullTag() != ext.FullTag() {
		return false
	}

	isRow := ext.Tag == "row"
	for _, attr := range ext.Attr {
		if attr.Space != "" {
			continue
		}
		if (!isRow && attr.Key == "name") || (isRow && attr.Key == "type") {
			if sa := source.SelectAttr(attr.Key); sa != nil {
				return sa.Value == attr.Value
			}
		}
	}

	return containerTags[ext.Tag]
}

func isOverwrite(el *etree.Element) bool {
	return strings.EqualFold(el.SelectAttrValue("overwrite", ""), "true")
}

// nthDirectChild returns the num-th same-tag descendant of parent in document
// order, or nil when num is out of range or that element is nested deeper.
func nthDirectChild(parent *etree.Element, tag string, num int) *etree.Element {
	if num < 0 {
		return nil
	}
	var found *etree.Element
	count := -1
	var walk func(el *etree.Element) bool
	walk = func(el *etree.Element) bool {
		for _, child := range el.ChildElements() {
			if child.FullTag() == tag {
				count++
				if count == num {
					found = child
					return true
				}
			}
			if walk(child) {
				return true
			}
		}
		return false
	}
	walk(parent)

	if found == nil || found.Parent() != parent {
		return nil
	}
	return found
}

// replaceChild swaps old for replacement at the same position in parent.
func replaceChild(parent, old, replacement *etree.Element) {
	for i, tok := range parent.Child {
		if el, ok := tok.(*etree.Element); ok && el == old {
			parent.RemoveChildAt(i)
			parent.InsertChildAt(i, replacement)
			return
		}
	}
	parent.AddChild(replacement)
}
