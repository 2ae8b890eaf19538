package mailbox

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mailtriage/internal/model"
)

// csvTimeFormats are tried in order when parsing received_at values.
var csvTimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// ReadCSV parses an email export. The first row is a header; recognized
// columns are id, subject, sender (or from), body, received_at (or date).
// Rows that cannot be parsed are skipped with a warning rather than failing
// the import. Rows without an id get a generated UUID.
func ReadCSV(r io.Reader) ([]model.EmailRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: read csv header")
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	idCol, idOK := cols["id"]
	subjectCol, subjectOK := cols["subject"]
	senderCol, senderOK := cols["sender"]
	if !senderOK {
		senderCol, senderOK = cols["from"]
	}
	bodyCol, bodyOK := cols["body"]
	dateCol, dateOK := cols["received_at"]
	if !dateOK {
		dateCol, dateOK = cols["date"]
	}
	if !subjectOK && !bodyOK {
		return nil, eris.New("mailbox: csv has neither subject nor body column")
	}

	var out []model.EmailRecord
	line := 1
	for {
		line++
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			zap.L().Warn("mailbox: skipping malformed csv row",
				zap.Int("line", line),
				zap.Error(err),
			)
			continue
		}

		e := model.EmailRecord{}
		if idOK {
			e.ID = strings.TrimSpace(field(row, idCol))
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if subjectOK {
			e.Subject = field(row, subjectCol)
		}
		if senderOK {
			e.Sender = field(row, senderCol)
		}
		if bodyOK {
			e.Body = field(row, bodyCol)
		}
		if dateOK {
			e.ReceivedAt = parseCSVTime(field(row, dateCol), line)
		}
		if e.ReceivedAt.IsZero() {
			e.ReceivedAt = time.Now().UTC()
		}

		out = append(out, e)
	}

	return out, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseCSVTime(s string, line int) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range csvTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	zap.L().Warn("mailbox: unparseable received_at, using import time",
		zap.Int("line", line),
		zap.String("value", s),
	)
	return time.Time{}
}
