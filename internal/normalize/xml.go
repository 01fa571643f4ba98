package normalize

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// XMLNode is a generic element tree. Namespaces are dropped; only local
// names are kept.
type XMLNode struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*XMLNode
}

// Child returns the first child named name, or nil.
func (n *XMLNode) Child(name string) *XMLNode {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every child named name.
func (n *XMLNode) All(name string) []*XMLNode {
	if n == nil {
		return nil
	}
	var out []*XMLNode
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find follows a path of child names.
func (n *XMLNode) Find(path ...string) *XMLNode {
	cur := n
	for _, p := range path {
		cur = cur.Child(p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// ChildText returns the trimmed text of the first child named name.
func (n *XMLNode) ChildText(name string) string {
	c := n.Child(name)
	if c == nil {
		return ""
	}
	return c.Text
}

// fields flattens leaf children into a JSON-like object so XML records can
// share item parsers with their JSON counterparts. Attributes are included
// when no child element has the same name.
func (n *XMLNode) fields() map[string]any {
	m := make(map[string]any, len(n.Children)+len(n.Attrs))
	for k, v := range n.Attrs {
		m[k] = v
	}
	for _, c := range n.Children {
		if len(c.Children) == 0 {
			m[c.Name] = c.Text
		}
	}
	return m
}

func decodeXML(body []byte) (*XMLNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	var (
		root  *XMLNode
		stack []*XMLNode
		text  strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &XMLNode{Name: t.Name.Local}
			if len(t.Attr) > 0 {
				node.Attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					node.Attrs[a.Name.Local] = a.Value
				}
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
			text.Reset()
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("decode xml: unbalanced end element")
			}
			node := stack[len(stack)-1]
			if len(node.Children) == 0 {
				node.Text = strings.TrimSpace(text.String())
			}
			text.Reset()
			stack = stack[:len(stack)-1]
		}
	}

	if root == nil {
		return nil, errors.New("decode xml: no root element")
	}
	return root, nil
}
