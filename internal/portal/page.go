package portal

import (
	"strings"

	"golang.org/x/net/html"
)

const maxDiagnosticTexts = 5

type FormInfo struct {
	Action      string   `json:"action,omitempty"`
	Method      string   `json:"method"`
	SubmitNames []string `json:"submitNames"`
}

// Page is the diagnostic view of a portal response body.
type Page struct {
	Title      string
	Headings   []string
	Flash      []string
	Forms      []FormInfo
	FormCount  int
	LoginError string
}

// ParsePage collects the title, h1-h3 headings, flash messages, forms and
// the first errorlist entry of body.
func ParsePage(body string) Page {
	var (
		p        Page
		levels   = map[string][]string{}
		text     strings.Builder
		capture  string
		flash    bool
		errList  int
		form     *FormInfo
		liText   strings.Builder
		inLi     bool
		titleSet bool
	)

	finishForm := func() {
		if form == nil {
			return
		}
		p.FormCount++
		if len(p.Forms) < maxDiagnosticTexts {
			p.Forms = append(p.Forms, *form)
		}
		form = nil
	}

	z := html.NewTokenizer(strings.NewReader(body))
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			break loop
		case html.TextToken:
			if capture != "" {
				text.Write(z.Text())
			}
			if inLi {
				liText.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tag, more := z.TagName()
			name := string(tag)
			switch name {
			case "title", "h1", "h2", "h3":
				if capture == "" {
					capture = name
					text.Reset()
				}
			case "ul":
				a := readAttrs(z, more)
				if errList == 0 && a.classHas("errorlist") {
					errList = 1
				}
			case "li":
				a := readAttrs(z, more)
				flash = a.classHas("info", "error", "success", "warning")
				inLi = flash || errList == 1
				liText.Reset()
			case "form":
				finishForm()
				a := readAttrs(z, more)
				method := strings.ToUpper(a["method"])
				if method == "" {
					method = "GET"
				}
				form = &FormInfo{Action: a["action"], Method: method, SubmitNames: []string{}}
			case "input":
				a := readAttrs(z, more)
				if form != nil && strings.EqualFold(a["type"], "submit") && a["name"] != "" &&
					len(form.SubmitNames) < maxDiagnosticTexts {
					form.SubmitNames = append(form.SubmitNames, a["name"])
				}
			}
		case html.EndTagToken:
			tag, _ := z.TagName()
			name := string(tag)
			switch {
			case name == capture:
				s := normalizeText(text.String())
				capture = ""
				if s == "" {
					continue
				}
				if name == "title" {
					if !titleSet {
						p.Title, titleSet = s, true
					}
				} else if len(levels[name]) < maxDiagnosticTexts {
					levels[name] = append(levels[name], s)
				}
			case name == "li" && inLi:
				s := normalizeText(liText.String())
				if flash && s != "" && len(p.Flash) < maxDiagnosticTexts {
					p.Flash = append(p.Flash, s)
				}
				if errList == 1 && p.LoginError == "" && s != "" {
					p.LoginError = s
					errList = 2
				}
				inLi, flash = false, false
			case name == "ul" && errList == 1:
				errList = 2
			case name == "form":
				finishForm()
			}
		}
	}
	finishForm()

	for _, h := range []string{"h1", "h2", "h3"} {
		p.Headings = append(p.Headings, levels[h]...)
	}
	if len(p.Headings) > maxDiagnosticTexts {
		p.Headings = p.Headings[:maxDiagnosticTexts]
	}
	return p
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collectHints(body string, hints []string) []string {
	var out []string
	for _, h := range hints {
		if strings.Contains(body, h) {
			out = append(out, h)
		}
	}
	return out
}
