package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var serviceNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Collector zapisuje logy z topiců logs/<service> do <dir>/<service>.log.
type Collector struct {
	dir string
	mu  sync.Mutex
}

// NewCollector vytvoří adresář pro logy, pokud neexistuje.
func NewCollector(dir string) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("nelze vytvořit adresář pro logy: %w", err)
	}
	return &Collector{dir: dir}, nil
}

// ServiceFromTopic vytáhne jméno služby z "logs/<service>[/...]".
// Jméno se očistí, aby topic nemohl zapsat mimo adresář logů.
func ServiceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != TopicRoot {
		return "", fmt.Errorf("špatný formát topicu %q", topic)
	}
	name := serviceNameRe.ReplaceAllString(parts[1], "_")
	name = strings.Trim(name, ".")
	if name == "" {
		return "", fmt.Errorf("prázdné jméno služby v topicu %q", topic)
	}
	return name, nil
}

// Append připíše řádek do souboru služby (Open-Write-Close, kvůli rotaci logů).
func (c *Collector) Append(topic string, data []byte) error {
	service, err := ServiceFromTopic(topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(c.dir, service+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	// slog řádek už newline má, MQTT payload od jiných klientů nemusí.
	line := strings.TrimRight(string(data), "\n") + "\n"
	_, err = f.WriteString(line)
	return err
}
