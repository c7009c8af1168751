package normalize

// Synonym tables observed across the provider's desktop and mobile APIs.
// Each canonical name is also its own first source.

var UserSchema = Schema{
	{Name: "email", Sources: []string{"email", "customer_email", "CustomerEmail", "Email"}, Kind: KindText},
	{Name: "name", Sources: []string{"name", "full_name", "customer_name", "nume", "CustomerName"}, Kind: KindText},
	{Name: "phone", Sources: []string{"phone", "telefon", "mobile", "Phone"}, Kind: KindText},
	{Name: "id", Sources: []string{"id", "user_id", "UserId"}, Kind: KindID},
}

var PlaceSchema = Schema{
	{Name: "poc", Sources: []string{"poc", "poc_number", "POC", "ConsumptionPointCode", "pod"}, Kind: KindID},
	{Name: "pa", Sources: []string{"pa", "contract_account", "ContractAccount", "account", "cont_contract"}, Kind: KindID},
	{Name: "division", Sources: []string{"division", "Division", "energietyp", "divizie"}, Kind: KindID},
	{Name: "installation_number", Sources: []string{"installation_number", "InstallationNumber", "installation", "instalatie"}, Kind: KindCount},
	{Name: "autocit", Sources: []string{"autocit", "Autocit", "self_reading"}, Kind: KindID},
	{Name: "address", Sources: []string{"address", "Address", "adresa", "full_address"}, Kind: KindText},
	{Name: "name", Sources: []string{"name", "alias", "label"}, Kind: KindText},
}

var IndexWindowSchema = Schema{
	{Name: "start_date", Sources: []string{"start_date", "startDate", "StartDate", "data_inceput"}, Kind: KindDate},
	{Name: "end_date", Sources: []string{"end_date", "endDate", "EndDate", "data_sfarsit"}, Kind: KindDate},
	{Name: "last_index", Sources: []string{"last_index", "index", "value", "reading", "old_index"}, Kind: KindReading},
	{Name: "unit", Sources: []string{"unit", "Unit", "um"}, Kind: KindText},
	{Name: "meter_number", Sources: []string{"meter_number", "serie_contor", "SerialNumber", "meter"}, Kind: KindID},
	{Name: "can_submit", Sources: []string{"can_submit", "permite_index", "is_open"}, Kind: KindRaw},
}

var BalanceSchema = Schema{
	{Name: "total", Sources: []string{"total", "balance", "sold", "amount", "value"}, Kind: KindAmount},
	{Name: "unpaid", Sources: []string{"unpaid", "rest_de_plata", "unpaid_amount", "amount_due"}, Kind: KindAmount},
	{Name: "currency", Sources: []string{"currency", "Currency", "moneda"}, Kind: KindText},
	{Name: "due_date", Sources: []string{"due_date", "DueDate", "scadenta"}, Kind: KindDate},
	{Name: "invoice_count", Sources: []string{"invoice_count", "invoices_count", "numar_facturi"}, Kind: KindCount},
}

var InvoiceSchema = Schema{
	{Name: "id", Sources: []string{"id", "invoice_id", "number", "InvoiceNumber"}, Kind: KindID},
	{Name: "issue_date", Sources: []string{"issue_date", "date", "InvoiceDate", "data_emitere"}, Kind: KindDate},
	{Name: "due_date", Sources: []string{"due_date", "DueDate", "scadenta"}, Kind: KindDate},
	{Name: "amount", Sources: []string{"amount", "value", "sum", "total"}, Kind: KindAmount},
	{Name: "unpaid", Sources: []string{"unpaid", "rest_de_plata", "unpaid_amount", "amount_due"}, Kind: KindAmount},
	{Name: "currency", Sources: []string{"currency", "Currency"}, Kind: KindText},
	{Name: "status", Sources: []string{"status", "Status"}, Kind: KindText},
	{Name: "pdf_url", Sources: []string{"pdf_url", "url_pdf", "link"}, Kind: KindText},
	{Name: "month", Sources: []string{"month", "luna", "period", "billing_period"}, Kind: KindText},
}

var ConsumptionSchema = Schema{
	{Name: "month", Sources: []string{"month", "luna", "period", "date"}, Kind: KindText},
	{Name: "value", Sources: []string{"value", "consumption", "consum", "quantity"}, Kind: KindReading},
	{Name: "unit", Sources: []string{"unit", "Unit", "um"}, Kind: KindText},
}

var IndexReadingSchema = Schema{
	{Name: "date", Sources: []string{"date", "index_date", "reading_date", "data", "timestamp"}, Kind: KindDate},
	{Name: "value", Sources: []string{"value", "index", "reading"}, Kind: KindReading},
	{Name: "unit", Sources: []string{"unit", "Unit", "um"}, Kind: KindText},
	{Name: "source", Sources: []string{"source", "type", "tip"}, Kind: KindText},
}

// UnpaidKeys are the field names that carry an outstanding amount.
var UnpaidKeys = []string{"unpaid", "rest_de_plata", "unpaid_amount", "amount_due", "total_unpaid", "de_plata"}
