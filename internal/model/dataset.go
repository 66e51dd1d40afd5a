package model

// Collection names used for dump files and load steps.
const (
	CollectionContacts           = "contacts"
	CollectionDonations          = "donations"
	CollectionRecurringDonations = "recurringDonations"
	CollectionReportedIncome     = "reportedIncome"
	CollectionCharities          = "charities"
	CollectionCurrencyCodes      = "donationCurrencyCodes"
)

// UnknownCharityType is assigned to every target discovered in ledgers.
const UnknownCharityType = "Unknown"

// Donation is one point-in-time contribution split out of a contact ledger.
type Donation struct {
	ID        string     `json:"donation_id"`
	ContactID int64      `json:"donation_contact_id"`
	Timestamp *Timestamp `json:"donation_timestamp"`
	Target    string     `json:"donation_target"`
	Currency  string     `json:"donation_currency"`
	Amount    *float64   `json:"donation_amount"`
}

// RecurringDonation is a recurring contribution commitment.
type RecurringDonation struct {
	ContactID      int64      `json:"recurring_donation_contact_id"`
	StartTimestamp *Timestamp `json:"recurring_donation_start_timestamp"`
	EndTimestamp   *Timestamp `json:"recurring_donation_end_timestamp"`
	FrequencyUnit  string     `json:"recurring_donation_frequency_unit"`
	Frequency      *int64     `json:"recurring_donation_frequency"`
	Target         string     `json:"recurring_donation_target"`
	Currency       string     `json:"recurring_donation_currency"`
	Amount         *float64   `json:"recurring_donation_amount"`
}

// Income is one year of self-reported income.
type Income struct {
	ContactID        int64      `json:"income_contact_id"`
	StartDate        *Timestamp `json:"income_start_date"`
	EndDate          *Timestamp `json:"income_end_date"`
	Currency         string     `json:"income_currency"`
	Amount           *float64   `json:"income_amount"`
	PledgePercentage float64    `json:"income_pledge_percentage"`
}

// Charity is a contribution target discovered by name.
type Charity struct {
	Name string `json:"charity_name"`
	Type string `json:"charity_type"`
}

// CurrencyCode is one distinct currency seen in the ledgers.
type CurrencyCode struct {
	Code string `json:"currency_code"`
}

// Dataset is the complete output of an extraction run and the sole input of
// a load run. Every child collection refers to contacts by source id.
type Dataset struct {
	Contacts           []Record            `json:"contacts"`
	Donations          []Donation          `json:"donations"`
	RecurringDonations []RecurringDonation `json:"recurringDonations"`
	ReportedIncome     []Income            `json:"reportedIncome"`
	Charities          []Charity           `json:"charities"`
	CurrencyCodes      []CurrencyCode      `json:"donationCurrencyCodes"`
}

// Counts returns the number of records per collection.
func (d *Dataset) Counts() map[string]int {
	return map[string]int{
		CollectionContacts:           len(d.Contacts),
		CollectionDonations:          len(d.Donations),
		CollectionRecurringDonations: len(d.RecurringDonations),
		CollectionReportedIncome:     len(d.ReportedIncome),
		CollectionCharities:          len(d.Charities),
		CollectionCurrencyCodes:      len(d.CurrencyCodes),
	}
}
