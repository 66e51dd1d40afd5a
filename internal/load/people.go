package load

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-migrate/internal/db"
	"github.com/sells-group/crm-migrate/internal/fault"
	"github.com/sells-group/crm-migrate/internal/model"
)

// Contact fields read by the load steps.
const (
	fieldID          = "id"
	fieldEmail       = "email"
	fieldFirstName   = "first_name"
	fieldLastName    = "last_name"
	fieldJobTitle    = "job_title"
	fieldPhone       = "phone"
	fieldBirthDate   = "birth_date"
	fieldStreet      = "street_address"
	fieldStreet2     = "supplemental_address_1"
	fieldStreet3     = "supplemental_address_2"
	fieldCity        = "city"
	fieldPostalCode  = "postal_code"
	fieldRegion      = "state_province"
	fieldCountryCode = "country"
)

var personUpsert = db.UpsertConfig{
	Table:        TablePerson,
	Columns:      []string{"email", "source_contact_id"},
	ConflictKeys: []string{"email"},
}

var organizationUpsert = db.UpsertConfig{
	Table:        TableOrganization,
	Columns:      []string{"name", "type"},
	ConflictKeys: []string{"name"},
	// existing types are never overwritten
	UpdateCols: []string{},
}

// upsertPeople writes one person per contact keyed by email and maps source
// contact ids to destination ids. Returned rows are matched by email, never
// by position.
func upsertPeople(ctx context.Context, q db.Querier, contacts []model.Record) (map[int64]int64, error) {
	if len(contacts) == 0 {
		return map[int64]int64{}, nil
	}

	byEmail := make(map[string]int64, len(contacts))
	rows := make([][]any, 0, len(contacts))
	for _, c := range contacts {
		id, ok := c.Int64(fieldID)
		if !ok {
			return nil, fault.Integrity(model.AsString(c[fieldID]), fieldID, "contact has no integer id")
		}
		email := strings.TrimSpace(model.AsString(c[fieldEmail]))
		if email == "" {
			return nil, fault.Integrity(strconv.FormatInt(id, 10), fieldEmail, "contact has no email to key the person on")
		}
		if other, dup := byEmail[email]; dup {
			return nil, fault.Integrity(fmt.Sprintf("%d,%d", other, id), email, "contacts share an email")
		}
		byEmail[email] = id
		rows = append(rows, []any{email, id})
	}

	returned, err := db.BulkUpsertReturning(ctx, q, personUpsert, rows, []string{"id", "email"})
	if err != nil {
		return nil, eris.Wrap(err, "load: people")
	}
	if len(returned) != len(contacts) {
		return nil, fault.Integrity(TablePerson,
			fmt.Sprintf("%d contacts, %d ids", len(contacts), len(returned)),
			"people upsert returned a different number of rows than contacts written")
	}

	people := make(map[int64]int64, len(returned))
	for _, r := range returned {
		personID, ok := model.AsInt64(r[0])
		if !ok {
			return nil, eris.Errorf("load: people: unexpected id %v", r[0])
		}
		email := model.AsString(r[1])
		contactID, ok := byEmail[email]
		if !ok {
			return nil, fault.Integrity(TablePerson, email, "people upsert returned an email that was not written")
		}
		people[contactID] = personID
	}
	if len(people) != len(contacts) {
		return nil, fault.Integrity(TablePerson, missingContacts(byEmail, people), "contacts without a destination id")
	}
	return people, nil
}

func missingContacts(byEmail map[string]int64, people map[int64]int64) string {
	var ids []string
	for _, id := range byEmail {
		if _, ok := people[id]; !ok {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// upsertOrganizations writes every charity keyed by name and maps names to
// destination ids.
func upsertOrganizations(ctx context.Context, q db.Querier, charities []model.Charity) (map[string]int64, error) {
	if len(charities) == 0 {
		return map[string]int64{}, nil
	}

	rows := make([][]any, 0, len(charities))
	for _, c := range charities {
		typ := c.Type
		if typ == "" {
			typ = model.UnknownCharityType
		}
		rows = append(rows, []any{c.Name, typ})
	}

	returned, err := db.BulkUpsertReturning(ctx, q, organizationUpsert, rows, []string{"id", "name"})
	if err != nil {
		return nil, eris.Wrap(err, "load: organizations")
	}

	orgs := make(map[string]int64, len(returned))
	for _, r := range returned {
		id, ok := model.AsInt64(r[0])
		if !ok {
			return nil, eris.Errorf("load: organizations: unexpected id %v", r[0])
		}
		orgs[model.AsString(r[1])] = id
	}
	for _, c := range charities {
		if _, ok := orgs[c.Name]; !ok {
			return nil, fault.Integrity(TableOrganization, c.Name, "organization upsert returned no id for charity")
		}
	}
	return orgs, nil
}
