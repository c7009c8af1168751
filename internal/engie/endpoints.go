package engie

import (
	"context"
	"net/url"
)

// Upstream paths. "ballance" is the provider's spelling.
const (
	PathMobileLogin    = "/v2/login/mobile"
	PathAppStatus      = "/v2/app_status"
	PathUserMe         = "/v1/user/me"
	PathPlaces         = "/v1/placesofconsumption"
	PathDivisions      = "/v1/placesofconsumption/divisions/"
	PathIndex          = "/v1/index/"
	PathBalance        = "/v1/widgets/ballance"
	PathInvoiceDetails = "/v1/invoices/ballance-details"
	PathConsumption    = "/v1/index/consumption/"
	PathIndexHistory   = "/v1/index/history"
	PathInvoiceHistory = "/v1/invoices/history-only/"
)

// Credentials for the mobile login endpoint.
type Credentials struct {
	Email    string
	Password string
	DeviceID string
}

// MobileLogin posts credentials with the mobile header set and returns the
// decoded response envelope. Token validation is left to the caller.
func (c *Client) MobileLogin(ctx context.Context, creds Credentials) (any, error) {
	payload := map[string]string{
		"email":     Clean(creds.Email),
		"password":  Clean(creds.Password),
		"device_id": Clean(creds.DeviceID),
	}
	return c.PostJSON(ctx, PathMobileLogin, payload, MobileHeaders{DeviceID: creds.DeviceID})
}

// AppStatus is a lightweight probe that fails with ErrUnauthorized on a revoked token.
func (c *Client) AppStatus(ctx context.Context, h HeaderBuilder) error {
	_, err := c.Get(ctx, PathAppStatus, nil, h)
	return err
}

func (c *Client) UserMe(ctx context.Context, h HeaderBuilder) (any, error) {
	return c.Get(ctx, PathUserMe, nil, h)
}

func (c *Client) PlacesOfConsumption(ctx context.Context, h HeaderBuilder) (any, error) {
	return c.Get(ctx, PathPlaces, nil, h)
}

func (c *Client) Divisions(ctx context.Context, poc string, h HeaderBuilder) (any, error) {
	return c.Get(ctx, PathDivisions+url.PathEscape(Clean(poc)), nil, h)
}

// IndexQuery holds the optional filters for the index window call.
type IndexQuery struct {
	Division           string
	PA                 string
	InstallationNumber string
}

// Index returns the meter-reading window for a place of consumption.
func (c *Client) Index(ctx context.Context, poc string, q IndexQuery, h HeaderBuilder) (any, error) {
	params := url.Values{}
	setIf(params, "division", q.Division)
	setIf(params, "pa", q.PA)
	setIf(params, "installation_number", q.InstallationNumber)
	return c.Get(ctx, PathIndex+url.PathEscape(Clean(poc)), params, h)
}

// ContractAccountVariants lists the accepted encodings of the contract account
// form field, preferred first.
func ContractAccountVariants(contractAccount string) []url.Values {
	ca := Clean(contractAccount)
	return []url.Values{
		{"contract_account[]": {ca}},
		{"contract_account": {ca}},
	}
}

func (c *Client) Balance(ctx context.Context, contractAccount string, h HeaderBuilder) (any, error) {
	return c.PostFormVariants(ctx, PathBalance, ContractAccountVariants(contractAccount), h)
}

func (c *Client) InvoiceDetails(ctx context.Context, contractAccount string, h HeaderBuilder) (any, error) {
	return c.PostFormVariants(ctx, PathInvoiceDetails, ContractAccountVariants(contractAccount), h)
}

// Consumption dates are YYYY-MM-DD.
func (c *Client) Consumption(ctx context.Context, poc, startDate, endDate, pa string, h HeaderBuilder) (any, error) {
	params := url.Values{
		"startDate": {Clean(startDate)},
		"endDate":   {Clean(endDate)},
	}
	setIf(params, "pa", pa)
	return c.Get(ctx, PathConsumption+url.PathEscape(Clean(poc)), params, h)
}

// IndexHistoryRequest is the JSON body of the index history call.
type IndexHistoryRequest struct {
	Autocit   string `json:"autocit"`
	POCNumber string `json:"poc_number"`
	Division  string `json:"division"`
	StartDate string `json:"start_date"`
}

func (c *Client) IndexHistory(ctx context.Context, req IndexHistoryRequest, h HeaderBuilder) (any, error) {
	req.Autocit = Clean(req.Autocit)
	req.POCNumber = Clean(req.POCNumber)
	req.Division = Clean(req.Division)
	req.StartDate = Clean(req.StartDate)
	return c.PostJSON(ctx, PathIndexHistory, req, h)
}

func (c *Client) InvoiceHistory(ctx context.Context, poc, startDate, endDate, pa string, h HeaderBuilder) (any, error) {
	params := url.Values{
		"startDate": {Clean(startDate)},
		"endDate":   {Clean(endDate)},
	}
	setIf(params, "pa", pa)
	return c.Get(ctx, PathInvoiceHistory+url.PathEscape(Clean(poc)), params, h)
}

func setIf(params url.Values, key, value string) {
	if v := Clean(value); v != "" {
		params.Set(key, v)
	}
}
