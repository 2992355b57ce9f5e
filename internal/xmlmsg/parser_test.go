package xmlmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/xmlgate/internal/model"
)

const sampleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Message>
  <Version>3.0</Version>
  <TimeStamp>2024-03-01T10:15:00</TimeStamp>
  <SignedData><Signature>c2lnbmF0dXJl</Signature></SignedData>
  <Sender>
    <SenderINN>1234567890</SenderINN>
    <SenderName>Acme LLC</SenderName>
  </Sender>
  <Operation>
    <TransactionDate>2024-02-28</TransactionDate>
    <Amount>100.50</Amount>
    <Currency>RUB</Currency>
    <OperationType>transfer</OperationType>
  </Operation>
  <Members>
    <Member><MemberName>Alice</MemberName></Member>
    <Member><MemberName>Bob</MemberName></Member>
  </Members>
</Message>`

func TestParseHeader(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, model.Header{
		Version:     "3.0",
		TimeStamp:   "2024-03-01T10:15:00",
		Signature:   "c2lnbmF0dXJl",
		SenderTaxID: "1234567890",
		SenderName:  "Acme LLC",
	}, doc.Header)

	ts := doc.Timestamp()
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC), *ts)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"malformed":     `<Message><Version>3.0</Version>`,
		"not xml":       `just some text`,
		"empty":         ``,
		"blank version": `<Message><Version>  </Version></Message>`,
		"no version":    `<Message><TimeStamp>2024-01-01</TimeStamp></Message>`,
		"second root":   `<Message><Version>3.0</Version></Message><Extra/>`,
		"trailing text": `<Message><Version>3.0</Version></Message>garbage`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(input))
			var parseErr *model.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.True(t, model.IsPermanent(err))
		})
	}
}

func TestParseToleratesMissingOptionalFields(t *testing.T) {
	doc, err := Parse([]byte(`<Message><Version>3.0</Version></Message>`))
	require.NoError(t, err)
	assert.Empty(t, doc.Header.Signature)
	assert.Empty(t, doc.Header.SenderTaxID)
	assert.Nil(t, doc.Timestamp())
	assert.Nil(t, doc.Operation())
	assert.Empty(t, doc.Members())
}

func TestOperationAndMembers(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	op := doc.Operation()
	require.NotNil(t, op)
	require.NotNil(t, op.TransactionDate)
	assert.Equal(t, "2024-02-28", op.TransactionDate.Format("2006-01-02"))
	require.NotNil(t, op.Amount)
	assert.Equal(t, "100.5", op.Amount.String())
	assert.Equal(t, "RUB", op.Currency)
	assert.Equal(t, "transfer", op.OperationType)

	assert.Equal(t, []model.Member{{Name: "Alice"}, {Name: "Bob"}}, doc.Members())
}

func TestOperationWithUnparseableValues(t *testing.T) {
	doc, err := Parse([]byte(`<Message><Version>3.0</Version><Operation><Amount>ten</Amount><Currency>RUB</Currency></Operation></Message>`))
	require.NoError(t, err)
	op := doc.Operation()
	require.NotNil(t, op)
	assert.Nil(t, op.Amount)
	assert.Nil(t, op.TransactionDate)
	assert.Equal(t, "RUB", op.Currency)
}

func TestLookup(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	v, ok := doc.Lookup("./Operation/Amount")
	assert.True(t, ok)
	assert.Equal(t, "100.50", v)

	v, ok = doc.Lookup("Members/Member/MemberName")
	assert.True(t, ok)
	assert.Equal(t, "Alice", v, "first match wins")

	_, ok = doc.Lookup("./Operation/Missing")
	assert.False(t, ok)

	_, ok = doc.Lookup("///[")
	assert.False(t, ok, "invalid expressions are not found")

	_, ok = doc.Lookup("")
	assert.False(t, ok)
}

func TestFieldValues(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	values := doc.Values([]model.DocumentField{
		{Name: "Amount", Path: "./Operation/Currency"},
		{Name: "Amount", Path: "./Operation/Amount"},
		{Name: "INN", Path: "./Sender/SenderINN"},
	})

	v, ok := values.Value("Amount", "./ignored")
	assert.True(t, ok)
	assert.Equal(t, "100.50", v, "last catalogue entry wins")

	v, ok = values.Value("INN", "")
	assert.True(t, ok)
	assert.Equal(t, "1234567890", v)

	v, ok = values.Value("Currency", "./Operation/Currency")
	assert.True(t, ok, "falls back to the rule path")
	assert.Equal(t, "RUB", v)

	_, ok = values.Value("TransactionDate", "./Operation/Nope")
	assert.False(t, ok)
}

func TestParseAllowsProlog(t *testing.T) {
	doc, err := Parse([]byte("<?xml version=\"1.0\"?>\n<!-- header -->\n<Message><Version>3.0</Version></Message>\n<!-- end -->\n"))
	require.NoError(t, err)
	assert.Equal(t, "3.0", doc.Header.Version)
}

func TestAmountOutsideStoredPrecision(t *testing.T) {
	cases := map[string]string{
		"100.50":               "100.5",
		"-0.01":                "-0.01",
		"9999999999999999.99":  "9999999999999999.99",
		"100.500":              "100.5",
		"100.505":              "",
		"12345678901234567890": "",
		"1e30":                 "",
		"10000000000000000":    "",
	}
	for input, want := range cases {
		t.Run(input, func(t *testing.T) {
			doc, err := Parse([]byte(`<Message><Version>3.0</Version><Operation><Amount>` + input + `</Amount></Operation></Message>`))
			require.NoError(t, err)
			op := doc.Operation()
			require.NotNil(t, op)
			if want == "" {
				assert.Nil(t, op.Amount)
				return
			}
			require.NotNil(t, op.Amount)
			assert.Equal(t, want, op.Amount.String())
		})
	}
}
