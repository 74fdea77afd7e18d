package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"plasticatlas/pkg/domain"
)

// Source is the slice of the catalog service a report can be built from.
// *core.Service satisfies it.
type Source interface {
	AverageByGene(ctx context.Context, gene string) ([]domain.GroupedAverage, error)
	ListByGene(ctx context.Context, gene string) ([]domain.PlateRecord, error)
	ActivityByGene(ctx context.Context, gene string) ([]domain.ActivityRow, error)
	ActivityByExperiment(ctx context.Context, expID string) ([]domain.ActivityRow, error)
	GetFamilyMembers(ctx context.Context, family int64) ([]domain.EnzymeRecord, error)
	GetComponentMembers(ctx context.Context, component int64) ([]domain.EnzymeRecord, error)
}

// table is a query result ready for rendering. data keeps the typed rows for
// JSON; columns and rows carry the flattened CSV view.
type table struct {
	data    any
	columns []string
	rows    [][]string
}

var (
	metadataColumns = []string{"exp_id", "exp_description", "timepoint_hours", "temp_celsius", "ph", "media", "organism", "date_created", "date_read"}
	recordColumns   = []string{"gene", "plate", "row", "column", "readout_value", "measurement_type", "colony_size", "normalization_method", "date_entered"}
	enzymeColumns   = []string{"enzyme_id", "accession", "family", "family_percent_identity", "component", "translated_sequence"}
)

// normalizeKey validates the lookup key for kind and returns its canonical
// form.
func normalizeKey(kind Kind, raw string) (string, error) {
	switch kind {
	case KindFamilyMembers, KindComponentMembers:
		id, err := domain.ParseID(kind.keyField(), raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(id, 10), nil
	default:
		return domain.ValidateKey(kind.keyField(), raw)
	}
}

func fetch(ctx context.Context, src Source, kind Kind, key string) (table, error) {
	switch kind {
	case KindPlateAverages:
		groups, err := src.AverageByGene(ctx, key)
		if err != nil {
			return table{}, err
		}
		t := table{data: groups, columns: append([]string{"plate", "measurement_type", "average_readout", "sample_count"}, metadataColumns...)}
		for _, g := range groups {
			row := []string{g.Plate, g.MeasurementType, formatFloat(g.AverageReadout), strconv.FormatInt(g.SampleCount, 10)}
			t.rows = append(t.rows, append(row, metadataCells(g.ExpID, g.ExpDescription, g.TimepointHours, g.TempCelsius, g.PH, g.Media, g.Organism, g.DateCreated, g.DateRead)...))
		}
		return t, nil
	case KindPlateRecords:
		records, err := src.ListByGene(ctx, key)
		if err != nil {
			return table{}, err
		}
		t := table{data: records, columns: recordColumns}
		for _, r := range records {
			t.rows = append(t.rows, recordCells(r))
		}
		return t, nil
	case KindActivityGene, KindActivityExperiment:
		var (
			rows []domain.ActivityRow
			err  error
		)
		if kind == KindActivityGene {
			rows, err = src.ActivityByGene(ctx, key)
		} else {
			rows, err = src.ActivityByExperiment(ctx, key)
		}
		if err != nil {
			return table{}, err
		}
		t := table{data: rows, columns: append(append([]string{}, recordColumns...), metadataColumns...)}
		for _, r := range rows {
			cells := recordCells(r.PlateRecord)
			t.rows = append(t.rows, append(cells, metadataCells(r.ExpID, r.ExpDescription, r.TimepointHours, r.TempCelsius, r.PH, r.Media, r.Organism, r.DateCreated, r.DateRead)...))
		}
		return t, nil
	case KindFamilyMembers, KindComponentMembers:
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return table{}, domain.ValidationError{Field: kind.keyField(), Reason: "must be an integer"}
		}
		var members []domain.EnzymeRecord
		if kind == KindFamilyMembers {
			members, err = src.GetFamilyMembers(ctx, id)
		} else {
			members, err = src.GetComponentMembers(ctx, id)
		}
		if err != nil {
			return table{}, err
		}
		t := table{data: members, columns: enzymeColumns}
		for _, m := range members {
			t.rows = append(t.rows, []string{
				strconv.FormatInt(m.ID, 10), m.Accession, formatInt(m.Family),
				formatOptFloat(m.FamilyPercentIdentity), formatInt(m.Component), m.TranslatedSequence,
			})
		}
		return t, nil
	}
	return table{}, domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown report kind %q", kind)}
}

func render(format Format, t table) ([]byte, error) {
	switch format {
	case FormatJSON:
		payload, err := json.Marshal(t.data)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		return payload, nil
	case FormatCSV:
		buf := &bytes.Buffer{}
		writer := csv.NewWriter(buf)
		if err := writer.Write(t.columns); err != nil {
			return nil, err
		}
		if err := writer.WriteAll(t.rows); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported report format %s", format)
}

func recordCells(r domain.PlateRecord) []string {
	return []string{
		r.Gene, r.Plate, r.Row, strconv.FormatInt(r.Column, 10), formatOptFloat(r.ReadoutValue),
		r.MeasurementType, formatOptFloat(r.ColonySize), formatString(r.NormalizationMethod), formatTime(r.DateEntered),
	}
}

func metadataCells(expID, desc *string, timepoint, temp, ph *float64, media, organism *string, created, read *time.Time) []string {
	return []string{
		formatString(expID), formatString(desc), formatOptFloat(timepoint), formatOptFloat(temp), formatOptFloat(ph),
		formatString(media), formatString(organism), formatTime(created), formatTime(read),
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
