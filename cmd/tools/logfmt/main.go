// logfmt pretty-prints the JSON lines pkg/logger emits, one event per
// stdout line, grouping the well-known fields first and sorting the
// rest. Piping a download run's output through it turns scheduler
// START/DONE/ERROR/CANCEL noise into something a human can scan.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

var (
	jobFilter   string
	levelFilter string
)

func init() {
	flag.StringVar(&jobFilter, "job", "", "only show lines whose \"job\" field matches")
	flag.StringVar(&levelFilter, "level", "", "only show lines at this log level (info, warn, error)")
}

func main() {
	flag.Parse()
	var b strings.Builder

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		m := make(map[string]any)
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			if jobFilter == "" && levelFilter == "" {
				fmt.Println(line)
			}
			continue
		}

		if jobFilter != "" {
			if job, _ := m["job"].(string); job != jobFilter {
				continue
			}
		}
		if levelFilter != "" {
			if level, _ := m["level"].(string); level != levelFilter {
				continue
			}
		}

		b.Reset()
		b.WriteString(fmt.Sprintf("%s: %s: %s: %s: ",
			m["ts"],
			m["level"],
			m["caller"],
			m["msg"],
		))

		var fields []string
		for k, v := range m {
			switch k {
			case "service", "ts", "level", "caller", "msg":
				continue
			}
			fields = append(fields, fmt.Sprintf("%s[%v]", k, v))
		}
		sort.Strings(fields)
		b.WriteString(strings.Join(fields, " "))

		fmt.Println(strings.TrimRight(b.String(), " "))
	}

	if err := scanner.Err(); err != nil {
		log.Println(err)
	}
}
