package xmp

import (
	"github.com/beevik/etree"
	"golang.org/x/text/cases"
)

// Kind is the RDF list type wrapping a keyword container's entries.
type Kind int

const (
	// Bag is an unordered rdf:Bag, used by most tools and for new containers.
	Bag Kind = iota
	// Seq is an ordered rdf:Seq, as written by ON1 Photo RAW.
	Seq
)

func (k Kind) String() string {
	if k == Seq {
		return "rdf:Seq"
	}
	return "rdf:Bag"
}

// Container is a keyword property such as dc:subject and the rdf:li entries it holds.
type Container struct {
	name string
	kind Kind
	list *etree.Element
}

// ensureContainer returns the container called name, creating it under desc if the document has none.
func ensureContainer(doc *etree.Document, desc *etree.Element, name string) *Container {
	prop := doc.FindElement("//" + name)
	if prop == nil {
		prop = desc.CreateElement(name)
	}

	if l := prop.SelectElement(Bag.String()); l != nil {
		return &Container{name: name, kind: Bag, list: l}
	}
	if l := prop.SelectElement(Seq.String()); l != nil {
		return &Container{name: name, kind: Seq, list: l}
	}

	return &Container{name: name, kind: Bag, list: prop.CreateElement(Bag.String())}
}

// Name is the qualified property name, for example "dc:subject".
func (c *Container) Name() string {
	return c.name
}

// Kind returns the list type found (or created) for this container.
func (c *Container) Kind() Kind {
	return c.kind
}

// Entries returns the literal values of all rdf:li children, in document order.
func (c *Container) Entries() []string {
	es := []string{}
	for _, li := range c.list.SelectElements("rdf:li") {
		es = append(es, li.Text())
	}
	return es
}

// Contains reports whether an entry equals v exactly.
func (c *Container) Contains(v string) bool {
	for _, e := range c.Entries() {
		if e == v {
			return true
		}
	}
	return false
}

// ContainsFold reports whether an entry equals v under Unicode case folding.
func (c *Container) ContainsFold(v string) bool {
	fold := cases.Fold()
	want := fold.String(v)
	for _, e := range c.Entries() {
		if fold.String(e) == want {
			return true
		}
	}
	return false
}

// Add appends v unless an identical entry exists. It returns true if the container changed.
func (c *Container) Add(v string) bool {
	if c.Contains(v) {
		return false
	}
	c.list.CreateElement("rdf:li").SetText(v)
	return true
}
