package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/bank"

	"github.com/gorilla/mux"
)

const (
	// DateLayout is the dd/mm/yyyy form the banking backend expects.
	DateLayout = "02/01/2006"

	maxID        = 1000000
	maxFieldLen  = 1000
	maxRangeDays = 90
)

var (
	digitsRe        = regexp.MustCompile(`^\d+$`)
	accountNumberRe = regexp.MustCompile(`^\d{5,20}$`)
	dateRe          = regexp.MustCompile(`^(0[1-9]|[12][0-9]|3[01])/(0[1-9]|1[0-2])/\d{4}$`)
)

// parseID validates the {id} path variable.
func parseID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	if raw == "" {
		return 0, apperr.BadRequest("missing id parameter")
	}
	if !digitsRe.MatchString(raw) {
		return 0, apperr.BadRequest("id must be a positive integer")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 || id > maxID {
		return 0, apperr.BadRequest("id is out of the allowed range")
	}
	return id, nil
}

// field is a named request value checked by requireFields.
type field struct {
	name  string
	value string
}

// requireFields rejects empty values, markup characters and overlong input.
func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.BadRequest("missing required fields: " + strings.Join(missing, ", "))
	}
	for _, f := range fields {
		if err := checkField(f); err != nil {
			return err
		}
	}
	return nil
}

// checkField applies the content rules to an optional value.
func checkField(f field) error {
	if strings.ContainsAny(f.value, "<>") {
		return apperr.BadRequest(fmt.Sprintf("field %s contains invalid characters", f.name))
	}
	if len(f.value) > maxFieldLen {
		return apperr.BadRequest(fmt.Sprintf("field %s exceeds the allowed length", f.name))
	}
	return nil
}

// parseDate parses a dd/mm/yyyy calendar date at local midnight.
func parseDate(s string) (time.Time, bool) {
	if !dateRe.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// midnight truncates t to the start of its local day.
func midnight(t time.Time) time.Time {
	t = t.In(time.Local)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.Local)
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func validAccountNumber(s string) error {
	if s == "" {
		return apperr.BadRequest("missing accountNumber")
	}
	if !accountNumberRe.MatchString(s) {
		return apperr.BadRequest("invalid accountNumber, expected 5-20 digits")
	}
	return nil
}

// transactionParams validates an explicit date range query.
func transactionParams(q map[string][]string, now time.Time) (bank.TransactionParams, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	p := bank.TransactionParams{
		AccountNumber: get("accountNumber"),
		FromDate:      get("fromDate"),
		ToDate:        get("toDate"),
	}
	if err := validAccountNumber(p.AccountNumber); err != nil {
		return p, err
	}
	if p.FromDate == "" || p.ToDate == "" {
		return p, apperr.BadRequest("fromDate and toDate are required")
	}

	from, ok := parseDate(p.FromDate)
	if !ok {
		return p, apperr.BadRequest("invalid fromDate, use dd/mm/yyyy")
	}
	to, ok := parseDate(p.ToDate)
	if !ok {
		return p, apperr.BadRequest("invalid toDate, use dd/mm/yyyy")
	}

	if from.After(to) {
		return p, apperr.BadRequest("fromDate must be on or before toDate")
	}
	if daysBetween(from, to) > maxRangeDays {
		return p, apperr.BadRequest(fmt.Sprintf("date range must not exceed %d days", maxRangeDays))
	}
	if to.After(midnight(now)) {
		return p, apperr.BadRequest("toDate must not be in the future")
	}
	return p, nil
}

// daysParams builds the range ending today and covering days calendar days.
func daysParams(q map[string][]string, now time.Time) (bank.TransactionParams, error) {
	var p bank.TransactionParams
	if v := q["accountNumber"]; len(v) > 0 {
		p.AccountNumber = v[0]
	}
	if err := validAccountNumber(p.AccountNumber); err != nil {
		return p, err
	}

	var raw string
	if v := q["days"]; len(v) > 0 {
		raw = v[0]
	}
	if raw == "" {
		return p, apperr.BadRequest("missing days parameter")
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return p, apperr.BadRequest("days must be a positive integer")
	}
	if days > maxRangeDays {
		return p, apperr.BadRequest(fmt.Sprintf("days must not exceed %d", maxRangeDays))
	}

	p.FromDate, p.ToDate = DaysRange(now, days)
	return p, nil
}

// DaysRange returns the dd/mm/yyyy range of days calendar days ending on
// the local day of now.
func DaysRange(now time.Time, days int) (from, to string) {
	today := midnight(now)
	start := today.AddDate(0, 0, -(days - 1))
	return start.Format(DateLayout), today.Format(DateLayout)
}
