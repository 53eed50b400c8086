package portal

import (
	"strings"

	"golang.org/x/net/html"
)

type attrs map[string]string

func readAttrs(z *html.Tokenizer, more bool) attrs {
	a := attrs{}
	for more {
		var k, v []byte
		k, v, more = z.TagAttr()
		key := string(k)
		if _, dup := a[key]; dup {
			continue
		}
		a[key] = string(v)
	}
	return a
}

func (a attrs) has(k string) bool {
	_, ok := a[k]
	return ok
}

func (a attrs) classHas(names ...string) bool {
	for _, c := range strings.Fields(a["class"]) {
		for _, n := range names {
			if c == n {
				return true
			}
		}
	}
	return false
}

type selectState struct {
	name     string
	first    string
	selected string
	done     bool
}

func (s *selectState) value() string {
	if s.selected != "" {
		return s.selected
	}
	return s.first
}

// ExtractFormValues returns what an unmodified browser would submit for the
// inputs and selects of body. Unchecked radios and checkboxes are skipped; a
// checked checkbox without a value submits "on". A select submits its first
// selected option, else its first option with a non-empty value. Select
// values win over inputs of the same name.
func ExtractFormValues(body string) map[string]string {
	inputs := map[string]string{}
	selects := map[string]string{}
	var sel *selectState

	closeSelect := func() {
		if sel != nil && sel.name != "" {
			if v := sel.value(); v != "" {
				selects[sel.name] = v
			}
		}
		sel = nil
	}

	z := html.NewTokenizer(strings.NewReader(body))
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			tag, more := z.TagName()
			switch string(tag) {
			case "input":
				a := readAttrs(z, more)
				name := a["name"]
				if name == "" {
					continue
				}
				typ := strings.ToLower(a["type"])
				if typ == "" {
					typ = "text"
				}
				if (typ == "radio" || typ == "checkbox") && !a.has("checked") {
					continue
				}
				if v, ok := a["value"]; ok {
					inputs[name] = v
				} else if typ == "checkbox" {
					inputs[name] = "on"
				}
			case "select":
				closeSelect()
				a := readAttrs(z, more)
				sel = &selectState{name: a["name"]}
			case "option":
				if sel == nil || sel.done {
					continue
				}
				a := readAttrs(z, more)
				v := a["value"]
				if v == "" {
					continue
				}
				if sel.first == "" {
					sel.first = v
				}
				if a.has("selected") {
					sel.selected = v
					sel.done = true
				}
			}
		case html.EndTagToken:
			if tag, _ := z.TagName(); string(tag) == "select" {
				closeSelect()
			}
		}
	}
	closeSelect()

	for k, v := range selects {
		inputs[k] = v
	}
	return inputs
}
