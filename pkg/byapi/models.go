package byapi

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chengjon/byapi-unified-client/internal/apierror"
	"github.com/chengjon/byapi-unified-client/internal/stockcode"
)

// StockInfo is one entry of the listed-stock directory.
type StockInfo struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
}

// Quote is one OHLCV bar, or a real-time snapshot.
// Optional fields are nil when the provider omits them.
type Quote struct {
	Code          string    `json:"code"`
	Name          string    `json:"name,omitempty"`
	Time          time.Time `json:"time"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	Volume        float64   `json:"volume"`
	Amount        float64   `json:"amount"`
	PreviousClose *float64  `json:"previous_close,omitempty"`
	Change        *float64  `json:"change,omitempty"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
	Suspended     bool      `json:"suspended,omitempty"`
}

// IndicatorKind names a technical indicator family.
type IndicatorKind string

const (
	IndicatorMACD IndicatorKind = "macd"
	IndicatorMA   IndicatorKind = "ma"
	IndicatorBOLL IndicatorKind = "boll"
	IndicatorKDJ  IndicatorKind = "kdj"
)

// TechnicalIndicator is one period of an indicator series. Only the fields of
// its Kind are set.
type TechnicalIndicator struct {
	Code string        `json:"code"`
	Kind IndicatorKind `json:"kind"`
	Time time.Time     `json:"time"`

	DIF  *float64 `json:"dif,omitempty"`
	DEA  *float64 `json:"dea,omitempty"`
	MACD *float64 `json:"macd,omitempty"`

	MA5  *float64 `json:"ma5,omitempty"`
	MA10 *float64 `json:"ma10,omitempty"`
	MA20 *float64 `json:"ma20,omitempty"`
	MA30 *float64 `json:"ma30,omitempty"`
	MA60 *float64 `json:"ma60,omitempty"`

	BollUpper  *float64 `json:"boll_upper,omitempty"`
	BollMiddle *float64 `json:"boll_middle,omitempty"`
	BollLower  *float64 `json:"boll_lower,omitempty"`

	K *float64 `json:"k,omitempty"`
	D *float64 `json:"d,omitempty"`
	J *float64 `json:"j,omitempty"`
}

// Announcement is a company filing or notice.
type Announcement struct {
	Code    string    `json:"code"`
	Title   string    `json:"title"`
	Date    time.Time `json:"date"`
	Type    string    `json:"type,omitempty"`
	Content string    `json:"content,omitempty"`
	Source  *string   `json:"source,omitempty"`
	URL     *string   `json:"url,omitempty"`
}

// CompanyProfile is the company introduction.
type CompanyProfile struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	EnglishName *string    `json:"english_name,omitempty"`
	Exchange    *string    `json:"exchange,omitempty"`
	Industry    *string    `json:"industry,omitempty"`
	ListDate    *time.Time `json:"list_date,omitempty"`
	IssuePrice  *float64   `json:"issue_price,omitempty"`
	Website     *string    `json:"website,omitempty"`
	Address     *string    `json:"address,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// StatementKind names a financial statement.
type StatementKind string

const (
	StatementBalance  StatementKind = "balance"
	StatementIncome   StatementKind = "income"
	StatementCashFlow StatementKind = "cashflow"
)

// FinancialStatement is one reporting period of one statement. The provider
// publishes hundreds of line items, so they stay in Raw; Float reads one.
type FinancialStatement struct {
	Kind       StatementKind   `json:"kind"`
	ReportDate time.Time       `json:"report_date"`
	Raw        json.RawMessage `json:"raw"`
}

// Float returns the numeric line item stored under field, e.g. "yysr".
func (s FinancialStatement) Float(field string) (float64, bool) {
	f, err := optFloat(gjson.ParseBytes(s.Raw), field)
	if err != nil || f == nil {
		return 0, false
	}
	return *f, true
}

// FinancialData groups the three statements of one company.
type FinancialData struct {
	Code     string               `json:"code"`
	Balance  []FinancialStatement `json:"balance,omitempty"`
	Income   []FinancialStatement `json:"income,omitempty"`
	CashFlow []FinancialStatement `json:"cash_flow,omitempty"`

	// DateAutoAdjusted is set when the requested range had no data and the
	// most recent statements were returned instead.
	DateAutoAdjusted bool   `json:"date_auto_adjusted,omitempty"`
	RequestedRange   string `json:"requested_range,omitempty"`
}

// IsEmpty reports whether no statement was returned.
func (f *FinancialData) IsEmpty() bool {
	return len(f.Balance) == 0 && len(f.Income) == 0 && len(f.CashFlow) == 0
}

func mapError(what string, err error) error {
	return apierror.Data(0, err, "failed to parse %s", what)
}

func mapStockInfo(r gjson.Result) (StockInfo, error) {
	info := StockInfo{
		Code:     stringField(r, "dm", "code"),
		Name:     stringField(r, "mc", "name"),
		Exchange: stringField(r, "jys", "exchange"),
	}
	if info.Code == "" {
		return StockInfo{}, mapError("stock list entry", errMissing("dm"))
	}
	return info, nil
}

// mapBar reads a k-line bar from hsstock/latest and hsstock/history.
func mapBar(code stockcode.Code, r gjson.Result) (Quote, error) {
	m := fieldMapper{r: r}
	q := Quote{
		Code:          code.Digits,
		Name:          m.str("mc", "name"),
		Time:          m.time("t", "trade_date", "date"),
		Open:          m.float("o", "open"),
		High:          m.float("h", "high"),
		Low:           m.float("l", "low"),
		Close:         m.float("c", "close"),
		Volume:        m.float("v", "volume"),
		Amount:        m.float("a", "amount"),
		PreviousClose: m.optFloat("pc", "pre_close"),
	}
	if sf := m.optFloat("sf"); sf != nil && *sf != 0 {
		q.Suspended = true
	}
	if m.err != nil {
		return Quote{}, mapError("price bar", m.err)
	}
	q.fillChange()
	return q, nil
}

// mapRealTime reads hsrl/ssjy, which uses its own field names.
func mapRealTime(code stockcode.Code, r gjson.Result) (Quote, error) {
	m := fieldMapper{r: r}
	q := Quote{
		Code:          code.Digits,
		Name:          m.str("mc", "name"),
		Time:          m.time("t"),
		Open:          m.float("o"),
		High:          m.float("h"),
		Low:           m.float("l"),
		Close:         m.float("p", "c"),
		Volume:        m.float("v"),
		Amount:        m.float("cje", "a"),
		PreviousClose: m.optFloat("yc"),
		Change:        m.optFloat("ud"),
		ChangePercent: m.optFloat("pc"),
	}
	if m.err != nil {
		return Quote{}, mapError("real-time quote", m.err)
	}
	q.fillChange()
	return q, nil
}

// fillChange derives the change fields from the previous close when the
// provider did not send them.
func (q *Quote) fillChange() {
	if q.PreviousClose == nil || *q.PreviousClose == 0 {
		return
	}
	if q.Change == nil {
		c := q.Close - *q.PreviousClose
		q.Change = &c
	}
	if q.ChangePercent == nil {
		p := *q.Change / *q.PreviousClose * 100
		q.ChangePercent = &p
	}
}

func mapIndicator(code stockcode.Code, kind IndicatorKind, r gjson.Result) (TechnicalIndicator, error) {
	m := fieldMapper{r: r}
	ind := TechnicalIndicator{
		Code: code.Digits,
		Kind: kind,
		Time: m.time("t", "date"),
	}

	switch kind {
	case IndicatorMACD:
		ind.DIF = m.optFloat("dif")
		ind.DEA = m.optFloat("dea")
		ind.MACD = m.optFloat("macd")
	case IndicatorMA:
		ind.MA5 = m.optFloat("ma5")
		ind.MA10 = m.optFloat("ma10")
		ind.MA20 = m.optFloat("ma20")
		ind.MA30 = m.optFloat("ma30")
		ind.MA60 = m.optFloat("ma60")
	case IndicatorBOLL:
		ind.BollUpper = m.optFloat("u", "upper", "boll_up")
		ind.BollMiddle = m.optFloat("m", "mid", "boll_mid")
		ind.BollLower = m.optFloat("d", "lower", "boll_dn")
	case IndicatorKDJ:
		ind.K = m.optFloat("k")
		ind.D = m.optFloat("d")
		ind.J = m.optFloat("j")
	}

	if m.err != nil {
		return TechnicalIndicator{}, mapError(string(kind)+" indicator", m.err)
	}
	return ind, nil
}

func mapAnnouncement(code stockcode.Code, r gjson.Result) (Announcement, error) {
	m := fieldMapper{r: r}
	a := Announcement{
		Code:    code.Digits,
		Title:   m.str("title", "bt"),
		Date:    m.time("date", "rq", "t"),
		Type:    m.str("type", "lx"),
		Content: m.str("content", "nr"),
		Source:  m.optStr("source", "ly"),
		URL:     m.optStr("url", "link"),
	}
	if m.err != nil {
		return Announcement{}, mapError("announcement", m.err)
	}
	return a, nil
}

func mapCompanyProfile(code stockcode.Code, r gjson.Result) (CompanyProfile, error) {
	m := fieldMapper{r: r}
	p := CompanyProfile{
		Code:        code.Digits,
		Name:        m.str("name", "mc"),
		EnglishName: m.optStr("ename", "name_en"),
		Exchange:    m.optStr("market", "exchange"),
		Industry:    m.optStr("industry", "instype"),
		ListDate:    m.optTime("ldate", "list_date"),
		IssuePrice:  m.optFloat("sprice"),
		Website:     m.optStr("site"),
		Address:     m.optStr("addr"),
		Description: m.optStr("desc", "description", "idea"),
	}
	if m.err != nil {
		return CompanyProfile{}, mapError("company profile", m.err)
	}
	return p, nil
}

func mapStatement(kind StatementKind, r gjson.Result) (FinancialStatement, error) {
	m := fieldMapper{r: r}
	s := FinancialStatement{
		Kind:       kind,
		ReportDate: m.time("jzrq", "date"),
		Raw:        json.RawMessage(r.Raw),
	}
	if m.err != nil {
		return FinancialStatement{}, mapError(string(kind)+" statement", m.err)
	}
	return s, nil
}
