package businesscontext

import "github.com/ekaya-inc/ekaya-analyst/pkg/config"

// entityPrefixes are stripped from relation names before singularizing.
// Only the first matching prefix is removed.
var entityPrefixes = []string{
	"sheet_", "tbl_", "table_", "view_", "vw_", "ds_", "stg_", "raw_",
}

// foreignKeySuffixes mark a column as referencing another relation.
var foreignKeySuffixes = []string{"_id", "_key", "_fk"}

type businessTypeRule struct {
	businessType string
	tokens       []string
}

// businessTypeRules are evaluated against the lower-cased words of an
// entity's columns. The rule with the most hits wins; ties go to the
// earlier rule.
var businessTypeRules = []businessTypeRule{
	{"transaction", []string{"amount", "amt", "price", "total", "cost", "payment", "quantity", "qty", "revenue", "invoice", "fee", "discount", "tax", "balance"}},
	{"person", []string{"email", "name", "surname", "username", "phone", "age", "birth", "dob", "gender"}},
	{"product", []string{"sku", "product", "category", "brand", "stock", "inventory", "catalog"}},
	{"location", []string{"city", "country", "address", "addr", "zip", "postal", "latitude", "lat", "longitude", "lon", "lng", "region", "state"}},
	{"event", []string{"date", "timestamp", "created", "updated", "occurred", "event", "time", "ts"}},
}

// abbreviations expand column words into vocabulary terms.
var abbreviations = map[string]string{
	"id":   "ID",
	"uuid": "UUID",
	"url":  "URL",
	"sku":  "SKU",
	"qty":  "Quantity",
	"amt":  "Amount",
	"dept": "Department",
	"num":  "Number",
	"no":   "Number",
	"desc": "Description",
	"addr": "Address",
	"dob":  "Date of Birth",
	"cust": "Customer",
	"prod": "Product",
	"cat":  "Category",
	"ts":   "Timestamp",
	"dt":   "Date",
	"pct":  "Percent",
	"avg":  "Average",
	"msg":  "Message",
	"org":  "Organization",
	"emp":  "Employee",
	"acct": "Account",
}

// DefaultConfig returns the scoring weights used when none are configured.
func DefaultConfig() config.BusinessContextConfig {
	return config.BusinessContextConfig{
		MinConfidence:    0.5,
		ExactNameWeight:  0.5,
		StructuralWeight: 0.2,
		TypeWeight:       0.3,
		NamingWeight:     0.4,
		ManyToManyFactor: 0.8,
	}
}
