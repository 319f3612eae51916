package query

import (
	"testing"

	"github.com/poiesic/transcriptlens/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAnalysis(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []core.Complaint
	}{
		{
			name: "plain object",
			raw:  `{"klachten":[{"naam":"Late levering","frequentie":3,"samenvatting":"Pakketten komen te laat."}]}`,
			expected: []core.Complaint{
				{Name: "Late levering", Frequency: 3, Summary: "Pakketten komen te laat."},
			},
		},
		{
			name: "code fence",
			raw:  "```json\n{\"klachten\":[{\"naam\":\"Wachttijd\",\"frequentie\":1,\"samenvatting\":\"Lang in de wacht.\"}]}\n```",
			expected: []core.Complaint{
				{Name: "Wachttijd", Frequency: 1, Summary: "Lang in de wacht."},
			},
		},
		{
			name: "surrounding prose",
			raw:  "Hier is de analyse:\n{\"klachten\":[{\"naam\":\"Defect\",\"frequentie\":2,\"samenvatting\":\"Product kapot.\"}]}\nSucces!",
			expected: []core.Complaint{
				{Name: "Defect", Frequency: 2, Summary: "Product kapot."},
			},
		},
		{
			name: "trailing commas",
			raw:  `{"klachten":[{"naam":"Defect","frequentie":2,"samenvatting":"Kapot.",},],}`,
			expected: []core.Complaint{
				{Name: "Defect", Frequency: 2, Summary: "Kapot."},
			},
		},
		{
			name: "unquoted keys",
			raw:  `{klachten: [{naam: "Defect", frequentie: 2, samenvatting: "Kapot."}]}`,
			expected: []core.Complaint{
				{Name: "Defect", Frequency: 2, Summary: "Kapot."},
			},
		},
		{
			name: "keys missing opening quote",
			raw:  `{"klachten": [{naam": "Defect", frequentie": 2, samenvatting": "Kapot."}]}`,
			expected: []core.Complaint{
				{Name: "Defect", Frequency: 2, Summary: "Kapot."},
			},
		},
		{
			name: "braces inside strings",
			raw:  `{"klachten":[{"naam":"Factuur {fout}","frequentie":1,"samenvatting":"Bedrag } klopt niet."}]} {"extra": true}`,
			expected: []core.Complaint{
				{Name: "Factuur {fout}", Frequency: 1, Summary: "Bedrag } klopt niet."},
			},
		},
		{
			name:     "no complaints",
			raw:      `{"klachten": []}`,
			expected: []core.Complaint{},
		},
		{
			name: "whitespace trimmed",
			raw:  `{"klachten":[{"naam":"  Retour  ","frequentie":1,"samenvatting":" Lastig. "}]}`,
			expected: []core.Complaint{
				{Name: "Retour", Frequency: 1, Summary: "Lastig."},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			complaints, err := DecodeAnalysis(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, complaints)
		})
	}
}

func TestDecodeAnalysis_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected error
	}{
		{"no json", "Ik weet het niet.", ErrNoJSONObject},
		{"missing klachten", `{"complaints": []}`, ErrMissingComplaints},
		{"null klachten", `{"klachten": null}`, ErrMissingComplaints},
		{"empty name", `{"klachten":[{"naam":" ","frequentie":1,"samenvatting":"x"}]}`, core.ErrEmptyComplaintName},
		{"zero frequency", `{"klachten":[{"naam":"x","frequentie":0,"samenvatting":"x"}]}`, core.ErrInvalidFrequency},
		{"negative frequency", `{"klachten":[{"naam":"x","frequentie":-2,"samenvatting":"x"}]}`, core.ErrInvalidComplaint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAnalysis(tt.raw)
			assert.ErrorIs(t, err, tt.expected)
		})
	}

	t.Run("unrepairable", func(t *testing.T) {
		_, err := DecodeAnalysis(`{"klachten": [{"naam": "x" "frequentie": 1}]}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid JSON")
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := DecodeAnalysis(`{"klachten": [{"naam": "x", "frequentie": "vaak"}]}`)
		require.Error(t, err)
	})
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"valid json untouched", `{"a": [1, 2], "b": "c,}"}`, `{"a": [1, 2], "b": "c,}"}`},
		{"trailing comma in object", `{"a": 1,}`, `{"a": 1}`},
		{"trailing comma in array", `[1, 2, ]`, `[1, 2 ]`},
		{"unquoted key", `{a: 1, b_2 : true}`, `{"a": 1, "b_2" : true}`},
		{"missing opening quote", `{ naam": "x"}`, `{ "naam": "x"}`},
		{"literal values untouched", `{"a": [true, null, false]}`, `{"a": [true, null, false]}`},
		{"escaped quote in string", `{"a": "zei \"hoi\", dag",}`, `{"a": "zei \"hoi\", dag"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, repairJSON(tt.input))
		})
	}
}

func TestExtractObject(t *testing.T) {
	obj, ok := extractObject(`prefix {"a": {"b": 1}} suffix {"c": 2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}}`, obj)

	obj, ok = extractObject(`{"a": {"b": 1}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": {"b": 1}`, obj)

	_, ok = extractObject("geen object")
	assert.False(t, ok)
}
