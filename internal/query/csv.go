package query

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"lora-backend/internal/model"
)

// CSVHeader je první řádek exportu.
const CSVHeader = "received_at,gateway_id,node_id,node_type,sequence,payload,rssi,snr"

// ExportCSV zapíše readingy (volitelně jen jednoho nodu) ve stejném pořadí jako
// ListReadings, bez limitu. Payload je JSON v uvozovkách se zdvojenými
// uvozovkami uvnitř, ostatní pole jsou bez uvozovek. Vrací počet řádků dat.
func (e *Engine) ExportCSV(ctx context.Context, w io.Writer, nodeID string) (int, error) {
	readings, err := e.ListReadings(ctx, Filter{NodeID: nodeID, Limit: NoLimit})
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(CSVHeader)
	bw.WriteByte('\n')
	for _, r := range readings {
		line, err := csvLine(r)
		if err != nil {
			return 0, err
		}
		bw.WriteString(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(readings), nil
}

// ExportCSVString je ExportCSV do řetězce.
func (e *Engine) ExportCSVString(ctx context.Context, nodeID string) (string, error) {
	var sb strings.Builder
	if _, err := e.ExportCSV(ctx, &sb, nodeID); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func csvLine(r model.Reading) (string, error) {
	payload, err := payloadJSON(r.Payload)
	if err != nil {
		return "", err
	}

	fields := []string{
		r.ReceivedAt.UTC().Format(time.RFC3339Nano),
		r.GatewayID,
		r.NodeID,
		r.NodeType,
		strconv.FormatInt(r.Sequence, 10),
		`"` + strings.ReplaceAll(payload, `"`, `""`) + `"`,
		strconv.Itoa(r.RSSI),
		strconv.FormatFloat(r.SNR, 'f', -1, 64),
	}
	return strings.Join(fields, ","), nil
}

func payloadJSON(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
