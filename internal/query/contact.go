package query

// ContactCore is the CiviCRM contact table with the attributes that migrate.
var ContactCore = Core{
	Table: "civicrm_contact",
	Alias: "contact",
	Key:   "id",
	Columns: []string{
		"id",
		"source",
		"first_name",
		"last_name",
		"prefix_id",
		"suffix_id",
		"job_title",
		"gender_id",
		"birth_date",
	},
}

// ContactGroups are the primary email, address and phone of a contact.
var ContactGroups = []Group{
	{
		Table:     "civicrm_email",
		Alias:     "email",
		Key:       "contact_id",
		Columns:   []string{"email"},
		Predicate: "is_primary = 1",
	},
	{
		Table: "civicrm_address",
		Alias: "address",
		Key:   "contact_id",
		Columns: []string{
			"street_address",
			"supplemental_address_1",
			"supplemental_address_2",
			"city",
			"postal_code",
			"state_province_id",
			"country_id",
		},
		Predicate: "is_primary = 1",
	},
	{
		Table:     "civicrm_phone",
		Alias:     "phone",
		Key:       "contact_id",
		Columns:   []string{"phone"},
		Predicate: "is_primary = 1",
	},
}

// ContactSpec returns the contact query spec with the given filter and cap.
func ContactSpec(filter Filter, limit, offset int) Spec {
	return Spec{
		Core:   ContactCore,
		Groups: ContactGroups,
		Filter: filter,
		Limit:  limit,
		Offset: offset,
	}
}
