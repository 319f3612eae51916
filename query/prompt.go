package query

import (
	"fmt"
	"strings"

	"github.com/poiesic/transcriptlens/core"
)

// formatInstructions describes the JSON the model must return.
const formatInstructions = `Het antwoord moet een JSON object zijn dat voldoet aan dit schema:
{
  "klachten": [
    {
      "naam": "string, korte naam van de klacht",
      "frequentie": "integer >= 1, hoe vaak deze klacht voorkomt",
      "samenvatting": "string, beknopte uitleg van de klacht"
    }
  ]
}
Geef alleen het JSON object terug, zonder uitleg en zonder code blokken.
Als de context geen klachten bevat, geef dan {"klachten": []} terug.`

const promptTemplate = `Je bent een AI-assistent die transcripten van klantenservice gesprekken analyseert.

Gebruik de volgende context om de vraag te beantwoorden:

CONTEXT:
%s

VRAAG:
%s

INSTRUCTIES:
1. Identificeer alle klachten in de context
2. Tel hoe vaak elke klacht voorkomt
3. Geef een beknopte samenvatting per klacht
4. Gebruik uitsluitend informatie uit de context
5. Retourneer het resultaat in het gevraagde JSON formaat

%s

ANTWOORD:`

const retryTemplate = `

Je vorige antwoord kon niet worden verwerkt: %s
Antwoord opnieuw en houd je exact aan het JSON schema hierboven.

ANTWOORD:`

// BuildContext renders retrieved records as grounding context in the order
// given, each preceded by its source attribution.
func BuildContext(records []*core.RetrievedRecord) string {
	var b strings.Builder
	for i, record := range records {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Bron: %s #%d]\n%s", sourceName(record), chunkIndex(record), record.Content)
	}
	return b.String()
}

// BuildPrompt renders the analysis prompt for question and context.
func BuildPrompt(question, grounding string) string {
	return fmt.Sprintf(promptTemplate, grounding, question, formatInstructions)
}

// BuildRetryPrompt extends the analysis prompt with the reason the previous
// answer was rejected.
func BuildRetryPrompt(question, grounding string, failure *DecodeFailure) string {
	prompt := strings.TrimSuffix(BuildPrompt(question, grounding), "\n\nANTWOORD:")
	return prompt + fmt.Sprintf(retryTemplate, failure.Err)
}

func sourceName(record *core.RetrievedRecord) string {
	if name := record.Metadata.String(core.MetaFilename); name != "" {
		return name
	}
	if name := record.Metadata.String(core.MetaSourceID); name != "" {
		return name
	}
	return "onbekend"
}

func chunkIndex(record *core.RetrievedRecord) int {
	if i, ok := record.Metadata.Int(core.MetaChunkIndex); ok {
		return i
	}
	i, _ := record.Metadata.Int(core.MetaIndex)
	return i
}
