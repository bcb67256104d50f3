package xmp

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

var (
	// ErrParse is returned when a sidecar is not well-formed XMP.
	ErrParse = errors.New("sidecar parse failed")
	// ErrWrite is returned when a sidecar could not be serialized or written.
	ErrWrite = errors.New("sidecar write failed")
)

const (
	dcNS = "http://purl.org/dc/elements/1.1/"
	lrNS = "http://ns.adobe.com/lightroom/1.0/"

	subjectTag      = "dc:subject"
	hierSubjectTag  = "lr:hierarchicalSubject"
	derivedFromAttr = "xmpMM:DerivedFrom"
	dateTimeAttr    = "exif:DateTimeOriginal"

	// Separator splits the levels of a hierarchical subject.
	Separator = "|"
)

var skeleton = `<?xml version="1.0" encoding="UTF-8"?>
<x:xmpmeta xmlns:x="adobe:ns:meta/" x:xmptk="stag">
 <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <rdf:Description rdf:about=""
    xmlns:exif="http://ns.adobe.com/exif/1.0/"
    xmlns:xmp="http://ns.adobe.com/xap/1.0/"
    xmlns:xmpMM="http://ns.adobe.com/xap/1.0/mm/">
  </rdf:Description>
 </rdf:RDF>
</x:xmpmeta>
`

// State is the lifecycle position of a Document.
type State int

const (
	// StateNew is a document built by Create that has never been written.
	StateNew State = iota
	// StateLoaded is a document parsed from disk and not changed since.
	StateLoaded
	// StateMutated is a document with changes not yet saved.
	StateMutated
	// StatePersisted is a document whose current contents are on disk.
	StatePersisted
)

func (s State) String() string {
	return [...]string{"new", "loaded", "mutated", "persisted"}[s]
}

// Document is a parsed sidecar file.
type Document struct {
	path  string
	state State

	doc  *etree.Document
	desc *etree.Element

	subject     *Container
	hierSubject *Container
}

// Open reads and parses the sidecar at path.
//
// Missing namespace declarations and keyword containers are added in memory; nothing is written until Save.
func Open(path string) (*Document, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrParse, path, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(bs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
	}

	d, err := newDocument(path, doc)
	if err != nil {
		return nil, err
	}
	d.state = StateLoaded
	return d, nil
}

// Create builds a new sidecar for the asset at assetPath. The sidecar path follows NameFor.
func Create(assetPath string, preferExact bool) (*Document, error) {
	path := NameFor(assetPath, preferExact)

	doc := etree.NewDocument()
	if err := doc.ReadFromString(skeleton); err != nil {
		return nil, fmt.Errorf("skeleton: %w", err)
	}

	d, err := newDocument(path, doc)
	if err != nil {
		return nil, err
	}
	d.desc.CreateAttr(derivedFromAttr, filepath.Base(assetPath))
	d.state = StateNew

	klog.V(1).Infof("new sidecar for %s at %s", assetPath, path)
	return d, nil
}

func newDocument(path string, doc *etree.Document) (*Document, error) {
	desc := doc.FindElement("//rdf:Description")
	if desc == nil {
		return nil, fmt.Errorf("%w: %s: no rdf:Description", ErrParse, path)
	}

	d := &Document{path: path, doc: doc, desc: desc}

	d.ensureNamespace("dc", dcNS)
	d.subject = ensureContainer(doc, desc, subjectTag)

	d.ensureNamespace("lr", lrNS)
	d.hierSubject = ensureContainer(doc, desc, hierSubjectTag)

	return d, nil
}

// ensureNamespace declares prefix on the description unless it or an ancestor already does.
func (d *Document) ensureNamespace(prefix string, uri string) {
	key := "xmlns:" + prefix
	for e := d.desc; e != nil; e = e.Parent() {
		if e.SelectAttr(key) != nil {
			return
		}
	}
	d.desc.CreateAttr(key, uri)
}

// Path is where Save will write.
func (d *Document) Path() string {
	return d.path
}

// SetPath changes where Save will write.
func (d *Document) SetPath(path string) {
	d.path = path
}

// State returns the lifecycle state of the document.
func (d *Document) State() State {
	return d.state
}

// Subjects returns the flat dc:subject keywords.
func (d *Document) Subjects() []string {
	return d.subject.Entries()
}

// SubjectKind returns the list type of the dc:subject container.
func (d *Document) SubjectKind() Kind {
	return d.subject.Kind()
}

// HierarchicalSubjects returns the lr:hierarchicalSubject keywords.
func (d *Document) HierarchicalSubjects() []string {
	return d.hierSubject.Entries()
}

// HierarchicalSubjectKind returns the list type of the lr:hierarchicalSubject container.
func (d *Document) HierarchicalSubjectKind() Kind {
	return d.hierSubject.Kind()
}

// DerivedFrom returns the xmpMM:DerivedFrom attribute of the description.
func (d *Document) DerivedFrom() string {
	return d.desc.SelectAttrValue(derivedFromAttr, "")
}

// DateTimeOriginal returns the exif:DateTimeOriginal attribute, if present.
func (d *Document) DateTimeOriginal() (string, bool) {
	a := d.desc.SelectAttr(dateTimeAttr)
	if a == nil {
		return "", false
	}
	return a.Value, true
}

// HasSubjectPrefix returns true if a flat keyword equals prefix, ignoring case.
func (d *Document) HasSubjectPrefix(prefix string) bool {
	return d.subject.ContainsFold(prefix)
}

// AddSingleSubject adds a flat keyword unless it is already present.
func (d *Document) AddSingleSubject(v string) {
	if d.subject.Add(v) {
		d.touch()
	}
}

// AddHierarchicalSubject adds a hierarchical keyword such as "st|cat", along with each of its levels as flat keywords.
func (d *Document) AddHierarchicalSubject(v string) {
	if !d.hierSubject.Add(v) {
		return
	}
	d.touch()

	for _, s := range strings.Split(v, Separator) {
		d.AddSingleSubject(s)
	}
}

// StripDateTimeOriginal removes exif:DateTimeOriginal from the description.
func (d *Document) StripDateTimeOriginal() {
	if d.desc.RemoveAttr(dateTimeAttr) != nil {
		d.touch()
	}
}

func (d *Document) touch() {
	d.state = StateMutated
}

// Save writes the document to Path, replacing any existing file.
//
// The document is written to a hidden temporary file in the same directory and renamed into place.
func (d *Document) Save() error {
	bs, err := d.doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("%w: serialize %s: %v", ErrWrite, d.path, err)
	}
	if len(bytes.TrimSpace(bs)) == 0 {
		return fmt.Errorf("%w: %s: serialized document is empty", ErrWrite, d.path)
	}

	mode := os.FileMode(0o644)
	if st, err := os.Stat(d.path); err == nil {
		mode = st.Mode().Perm()
	}

	dir, base := filepath.Split(d.path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, uuid.NewString()))

	klog.Infof("writing to %s", d.path)
	if err := os.WriteFile(tmp, bs, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	if err := os.Rename(tmp, d.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}

	d.state = StatePersisted
	return nil
}
