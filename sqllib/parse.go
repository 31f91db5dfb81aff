package sqllib

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	dashComment = regexp.MustCompile(`--.*`)
	starComment = regexp.MustCompile(`(?s)/\*[^+][^*/]*\*/`)
	whitespace  = regexp.MustCompile(`\s+`)

	sqlNameStart = tag("<SQL-NAME>")
	sqlNameStop  = tag("</SQL-NAME>")
	sqlStart     = tag("<SQL>")
	sqlStop      = tag("</SQL>")
	slashComment = tag("//")
)

func tag(s string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(s))
}

func cutComment(line string) string {
	if loc := dashComment.FindStringIndex(line); loc != nil {
		return line[:loc[0]]
	}
	return line
}

func cleanup(sql string) string {
	sql = starComment.ReplaceAllString(sql, "")
	sql = whitespace.ReplaceAllString(sql, " ")
	return sql + " "
}

// Parse reads a library in either format. Data starting with an XML
// declaration is read as XML.
func Parse(name string, r io.Reader) (*Library, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read library %s: %w", name, err)
	}
	if isXML(data) {
		return parseXML(name, data)
	}
	return parseText(name, data)
}

func isXML(data []byte) bool {
	head := data
	if len(head) > 6 {
		head = head[:6]
	}
	return bytes.Contains(head, []byte("<?xml"))
}

func parseText(name string, data []byte) (*Library, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// element collects lines up to the closing tag, without dash comments.
	element := func(stop *regexp.Regexp) string {
		var b strings.Builder
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if stop.MatchString(line) {
				break
			}
			b.WriteByte(' ')
			b.WriteString(cutComment(line))
		}
		return b.String()
	}

	var (
		statements []Statement
		current    string
		inStmt     bool
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case sqlNameStart.MatchString(line):
			current = strings.TrimSpace(element(sqlNameStop))
			inStmt = true
		case inStmt && sqlStart.MatchString(line):
			sql := cleanup(strings.TrimSpace(element(sqlStop)))
			statements = append(statements, Statement{Name: current, SQL: sql})
			current, inStmt = "", false
		case slashComment.MatchString(line):
			continue
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse library %s: %w", name, err)
	}
	return newLibrary(name, statements), nil
}

func parseXML(name string, data []byte) (*Library, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var statements []Statement
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse library %s: %w", name, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sql" {
			continue
		}
		if len(start.Attr) == 0 {
			return nil, fmt.Errorf("failed to parse library %s: sql element without a name", name)
		}

		var body struct {
			Text string `xml:",chardata"`
		}
		if err := dec.DecodeElement(&body, &start); err != nil {
			return nil, fmt.Errorf("failed to parse library %s: %w", name, err)
		}

		lines := strings.Split(strings.TrimSpace(body.Text), "\n")
		for i, line := range lines {
			lines[i] = cutComment(line)
		}
		statements = append(statements, Statement{
			Name: start.Attr[0].Value,
			SQL:  cleanup(strings.Join(lines, " ")),
		})
	}
	return newLibrary(name, statements), nil
}
