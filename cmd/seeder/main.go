package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/transcriptlens"
	"github.com/poiesic/transcriptlens/config"
	"github.com/poiesic/transcriptlens/ingestion"
)

var complaints = []string{
	"Mijn pakket is nu al een week te laat.",
	"De bezorger heeft het pakket bij de verkeerde buren afgeleverd.",
	"Ik heb twee keer betaald voor dezelfde bestelling.",
	"De wasmachine was bij aankomst beschadigd.",
	"Ik heb al drie keer gebeld en niemand belt terug.",
	"De retourzending is nooit verwerkt.",
	"Mijn terugbetaling laat al maanden op zich wachten.",
	"De factuur klopt niet, er staan extra kosten op.",
	"De wachttijd aan de telefoon was meer dan een uur.",
	"Het product werkt niet zoals beschreven op de website.",
	"Mijn account is zonder reden geblokkeerd.",
	"De monteur is niet op de afgesproken dag gekomen.",
	"Ik kan mijn abonnement niet online opzeggen.",
	"De onderdelen ontbraken in het pakket.",
	"De medewerker was onvriendelijk en hing op.",
	"De track en trace code doet het niet.",
	"Ik kreeg een ander model dan ik had besteld.",
	"De garantie wordt geweigerd terwijl het apparaat nieuw is.",
}

var responses = []string{
	"Wat vervelend om te horen, ik ga het direct voor u nakijken.",
	"Mag ik uw ordernummer van u?",
	"Ik zie het in het systeem staan, excuses daarvoor.",
	"Ik zet een melding uit bij de afdeling logistiek.",
	"U ontvangt binnen drie werkdagen een reactie per e-mail.",
	"Ik heb een terugbetaling aangevraagd voor het verschil.",
	"Ik plan een nieuwe afspraak voor u in.",
	"Dat had niet mogen gebeuren, ik geef het door aan mijn leidinggevende.",
}

var seedFileName = flag.String("src", "", "file of complaint lines to draw from")
var configPath = flag.String("config", config.DefaultPath, "path to YAML configuration file")
var count = flag.Int("n", 20, "number of transcripts to generate")
var turns = flag.Int("turns", 4, "customer turns per transcript")
var outDir = flag.String("out", "", "also write the transcripts to this directory")
var seed = flag.Uint64("seed", 1, "random seed")

func init() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))
}

// linesFromFile returns the non-blank lines of a file.
func linesFromFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// transcripts returns an iterator over n synthetic call transcripts built
// from the complaint lines. The same seed yields the same transcripts.
func transcripts(lines []string, n, turns int, seed uint64) iter.Seq[ingestion.Document] {
	return func(yield func(ingestion.Document) bool) {
		rng := rand.New(rand.NewPCG(seed, seed))
		for i := range n {
			var b strings.Builder
			b.WriteString("Medewerker: Goedemiddag, u spreekt met de klantenservice.\n")
			for range turns {
				fmt.Fprintf(&b, "Klant: %s\n", lines[rng.IntN(len(lines))])
				fmt.Fprintf(&b, "Medewerker: %s\n", responses[rng.IntN(len(responses))])
			}
			b.WriteString("Medewerker: Kan ik u verder nog ergens mee helpen?\nKlant: Nee, dank u.")

			name := fmt.Sprintf("gesprek_%03d.txt", i+1)
			doc := ingestion.Document{Filename: name, Source: name, Content: b.String()}
			if !yield(doc) {
				return
			}
		}
	}
}

func writeCorpus(dir string, docs []ingestion.Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := os.WriteFile(filepath.Join(dir, doc.Filename), []byte(doc.Content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	lines := complaints
	if seedFileName != nil && *seedFileName != "" {
		lines, err = linesFromFile(*seedFileName)
		if err != nil {
			panic(err)
		}
		if len(lines) == 0 {
			panic(fmt.Sprintf("%s contains no lines", *seedFileName))
		}
	}

	var docs []ingestion.Document
	for doc := range transcripts(lines, *count, *turns, *seed) {
		docs = append(docs, doc)
	}
	if *outDir != "" {
		if err := writeCorpus(*outDir, docs); err != nil {
			panic(err)
		}
		slog.Info("wrote corpus", "dir", *outDir, "transcripts", len(docs))
	}

	db, err := transcriptlens.NewDatabaseFromConfig(cfg)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ingester, err := db.NewIngestionPipeline(append(cfg.IngestionOptions(), ingestion.WithReplaceSources(true))...)
	if err != nil {
		panic(err)
	}
	defer ingester.Release()

	summary, err := ingester.IngestDocuments(context.Background(), docs)
	if summary != nil {
		summary.Print(os.Stdout)
	}
	if err != nil {
		panic(err)
	}
}
