// ABOUTME: Generates overlay subclasses in the synthesized namespace.
// ABOUTME: Each overlay extends the original class so later layers can extend it again.

package overlay

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteError reports a target file that could not be created or written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Overlay describes one generated subclass.
type Overlay struct {
	SourceNamespace string
	TargetNamespace string
	ClassName       string
	Abstract        bool
	// ExtensionTrait is the fully qualified trait composed into concrete
	// overlays. Empty means no trait. Abstract overlays never compose it.
	ExtensionTrait string
}

// Render produces the overlay source.
func (o Overlay) Render() []byte {
	var b bytes.Buffer
	b.WriteString("<?php\n\n")
	fmt.Fprintf(&b, "namespace %s;\n\n", strings.Trim(o.TargetNamespace, `\`))
	b.WriteString("/**\n * Overlay generated by dinamic deploy. Do not edit.\n */\n")
	if o.Abstract {
		b.WriteString("abstract ")
	}
	fmt.Fprintf(&b, "class %s extends \\%s\\%s\n{\n", o.ClassName, strings.Trim(o.SourceNamespace, `\`), o.ClassName)
	if !o.Abstract && o.ExtensionTrait != "" {
		fmt.Fprintf(&b, "    use \\%s;\n", strings.TrimPrefix(o.ExtensionTrait, `\`))
	}
	b.WriteString("}\n")
	return b.Bytes()
}

// Emitter writes overlays for classified source files.
type Emitter struct {
	// ExtensionTrait is the trait used when a caller asks for extension support.
	ExtensionTrait string
}

// NewEmitter creates an emitter composing the given trait into extensible overlays.
func NewEmitter(extensionTrait string) *Emitter {
	return &Emitter{ExtensionTrait: extensionTrait}
}

// Request is one file to overlay.
type Request struct {
	SourcePath      string
	TargetPath      string
	SourceNamespace string
	TargetNamespace string
	ClassName       string
	// SupportsExtensions composes ExtensionTrait into concrete overlays.
	SupportsExtensions bool
}

// Emit classifies the source file and, when it declares a class, writes the
// overlay to the target path. Files without a class are left alone and the
// returned facts report KindNone.
func (e *Emitter) Emit(req Request) (Facts, error) {
	facts, err := Classify(req.SourcePath)
	if err != nil {
		return facts, err
	}
	kind := facts.Kind()
	if kind == KindNone {
		return facts, nil
	}

	o := Overlay{
		SourceNamespace: req.SourceNamespace,
		TargetNamespace: req.TargetNamespace,
		ClassName:       req.ClassName,
		Abstract:        kind == KindAbstract,
	}
	if req.SupportsExtensions {
		o.ExtensionTrait = e.ExtensionTrait
	}
	return facts, WriteFile(req.TargetPath, o.Render())
}

// WriteFile writes content, creating parent directories as needed.
func WriteFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// JoinNamespace joins namespace segments with backslashes, skipping empty ones.
func JoinNamespace(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, `\`)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, `\`)
}
