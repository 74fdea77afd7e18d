package taxonomy

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"plasticatlas/internal/sqlq"
	"plasticatlas/pkg/domain"
	"plasticatlas/testutil"
)

// seedCatalog builds two components:
//
//	component 1: family 10 (centroid 1, members 2 @ 95, 3 @ 80)
//	             family 11 (centroid 4)
//	family 12 without component (centroid 5, member 6 @ 70)
//	enzyme 7 unclassified
func seedCatalog(t *testing.T) *Engine {
	t.Helper()
	c := testutil.NewCatalog(t)
	comp := testutil.I64(1)
	c.Enzyme(1, "WP_0001.1").Enzyme(2, "WP_0002.1").Enzyme(3, "WP_0003.1").
		Enzyme(4, "WP_0004.1").Enzyme(5, "WP_0005.1").Enzyme(6, "WP_0006.1").
		Enzyme(7, "WP_0007.1")
	c.Member(3, 10, testutil.F64(80), comp).
		Member(1, 10, nil, comp).
		Member(2, 10, testutil.F64(95), comp).
		Member(4, 11, nil, comp).
		Member(5, 12, nil, nil).
		Member(6, 12, testutil.F64(70), nil)
	c.Variant(100, 1, "V100", testutil.F64(75)).
		Variant(101, 1, "V101", nil).
		Variant(102, 1, "V102", testutil.F64(99.5)).
		Variant(103, 1, "V103", testutil.F64(90)).
		Variant(104, 5, "V104", testutil.F64(88))
	return NewEngine(c.DB, sqlq.SQLite)
}

func ids(rows []domain.EnzymeRecord) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestListEnzymesIncludesUnclassified(t *testing.T) {
	e := seedCatalog(t)
	page, err := e.ListEnzymes(context.Background(), domain.EnzymeFilter{}, domain.Page{})
	if err != nil {
		t.Fatalf("ListEnzymes: %v", err)
	}
	if got := ids(page.Rows); !equalIDs(got, []int64{1, 2, 3, 4, 5, 6, 7}) {
		t.Fatalf("unexpected ids %v", got)
	}
	last := page.Rows[6]
	if last.Family != nil || last.Component != nil || last.FamilyPercentIdentity != nil {
		t.Fatalf("unclassified enzyme carries classification: %+v", last)
	}
	if page.Pagination.Total != 7 || page.Pagination.HasMore || page.Pagination.Limit != domain.DefaultPageLimit {
		t.Fatalf("unexpected pagination %+v", page.Pagination)
	}
}

func TestListEnzymesFilters(t *testing.T) {
	e := seedCatalog(t)
	ctx := context.Background()
	yes, no := true, false
	cases := []struct {
		name   string
		filter domain.EnzymeFilter
		want   []int64
	}{
		{"family", domain.EnzymeFilter{Family: testutil.I64(10)}, []int64{1, 2, 3}},
		{"component", domain.EnzymeFilter{Component: testutil.I64(1)}, []int64{1, 2, 3, 4}},
		{"family and component", domain.EnzymeFilter{Family: testutil.I64(12), Component: testutil.I64(1)}, []int64{}},
		{"has component", domain.EnzymeFilter{HasComponent: &yes}, []int64{1, 2, 3, 4}},
		{"without component", domain.EnzymeFilter{HasComponent: &no}, []int64{5, 6, 7}},
		{"unknown family", domain.EnzymeFilter{Family: testutil.I64(999)}, []int64{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := e.ListEnzymes(ctx, tc.filter, domain.Page{})
			if err != nil {
				t.Fatalf("ListEnzymes: %v", err)
			}
			if got := ids(page.Rows); !equalIDs(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			if page.Pagination.Total != int64(len(tc.want)) {
				t.Fatalf("expected total %d, got %d", len(tc.want), page.Pagination.Total)
			}
			if page.Rows == nil {
				t.Fatalf("rows must be an empty slice, not nil")
			}
		})
	}
}

func TestListEnzymesPagination(t *testing.T) {
	e := seedCatalog(t)
	ctx := context.Background()

	first, err := e.ListEnzymes(ctx, domain.EnzymeFilter{}, domain.Page{Limit: 3})
	if err != nil {
		t.Fatalf("ListEnzymes: %v", err)
	}
	if !equalIDs(ids(first.Rows), []int64{1, 2, 3}) || !first.Pagination.HasMore || first.Pagination.Total != 7 {
		t.Fatalf("unexpected first page %v %+v", ids(first.Rows), first.Pagination)
	}

	last, err := e.ListEnzymes(ctx, domain.EnzymeFilter{}, domain.Page{Limit: 3, Offset: 6})
	if err != nil {
		t.Fatalf("ListEnzymes: %v", err)
	}
	if !equalIDs(ids(last.Rows), []int64{7}) || last.Pagination.HasMore {
		t.Fatalf("unexpected last page %v %+v", ids(last.Rows), last.Pagination)
	}

	past, err := e.ListEnzymes(ctx, domain.EnzymeFilter{}, domain.Page{Limit: 3, Offset: 50})
	if err != nil {
		t.Fatalf("ListEnzymes: %v", err)
	}
	if len(past.Rows) != 0 || past.Pagination.HasMore || past.Pagination.Total != 7 {
		t.Fatalf("unexpected page past the end %+v", past)
	}

	if _, err := e.ListEnzymes(ctx, domain.EnzymeFilter{}, domain.Page{Offset: -1}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for negative offset, got %v", err)
	}
}

func TestGetEnzyme(t *testing.T) {
	e := seedCatalog(t)
	ctx := context.Background()

	byID, err := e.GetEnzyme(ctx, domain.EnzymeRef{ID: testutil.I64(2)})
	if err != nil {
		t.Fatalf("GetEnzyme by id: %v", err)
	}
	if byID.Accession != "WP_0002.1" || byID.Family == nil || *byID.Family != 10 || *byID.FamilyPercentIdentity != 95 {
		t.Fatalf("unexpected record %+v", byID)
	}

	byAcc, err := e.GetEnzyme(ctx, domain.EnzymeRef{Accession: "WP_0007.1"})
	if err != nil {
		t.Fatalf("GetEnzyme by accession: %v", err)
	}
	if byAcc.ID != 7 || byAcc.Family != nil {
		t.Fatalf("unexpected record %+v", byAcc)
	}

	_, err = e.GetEnzyme(ctx, domain.EnzymeRef{Accession: "missing"})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityEnzyme || nf.Key != "missing" {
		t.Fatalf("expected enzyme not found, got %v", err)
	}

	if _, err := e.GetEnzyme(ctx, domain.EnzymeRef{}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty ref, got %v", err)
	}
}

func TestGetVariantsAbsentIdentityFirst(t *testing.T) {
	e := seedCatalog(t)
	variants, err := e.GetVariants(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetVariants: %v", err)
	}
	var got []int64
	for _, v := range variants {
		got = append(got, v.ID)
	}
	if !equalIDs(got, []int64{101, 102, 103, 100}) {
		t.Fatalf("unexpected variant order %v", got)
	}
	if variants[0].EnzymePercentIdentity != nil {
		t.Fatalf("first variant must have absent identity")
	}

	none, err := e.GetVariants(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetVariants for enzyme without variants: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", none)
	}

	if _, err := e.GetVariants(context.Background(), 0); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for enzyme 0, got %v", err)
	}
}

func TestGetEnzymeByNumericAccession(t *testing.T) {
	c := testutil.NewCatalog(t)
	c.Enzyme(1, "12345").Enzyme(12345, "WP_9999.1")
	e := NewEngine(c.DB, sqlq.SQLite)

	ref, err := domain.ParseAccession("12345")
	if err != nil {
		t.Fatalf("ParseAccession: %v", err)
	}
	byAccession, err := e.GetEnzyme(context.Background(), ref)
	if err != nil {
		t.Fatalf("GetEnzyme by accession: %v", err)
	}
	if byAccession.ID != 1 {
		t.Fatalf("expected enzyme 1 for accession 12345, got %+v", byAccession)
	}

	ref, err = domain.ParseEnzymeRef("12345")
	if err != nil {
		t.Fatalf("ParseEnzymeRef: %v", err)
	}
	byID, err := e.GetEnzyme(context.Background(), ref)
	if err != nil || byID.Accession != "WP_9999.1" {
		t.Fatalf("expected id lookup to win for a bare number, got %+v (%v)", byID, err)
	}
}

func TestGetFamilyMembersCentroidFirst(t *testing.T) {
	e := seedCatalog(t)
	members, err := e.GetFamilyMembers(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetFamilyMembers: %v", err)
	}
	if got := ids(members); !equalIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("unexpected member order %v", got)
	}
	m, ok := members[0].Membership()
	if !ok || !m.IsCentroid() {
		t.Fatalf("first member must be the centroid: %+v", members[0])
	}

	_, err = e.GetFamilyMembers(context.Background(), 404)
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Entity != domain.EntityFamily || nf.Key != "404" {
		t.Fatalf("expected family not found, got %v", err)
	}
}

func TestGetComponentMembersGroupedByFamily(t *testing.T) {
	e := seedCatalog(t)
	members, err := e.GetComponentMembers(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetComponentMembers: %v", err)
	}
	if got := ids(members); !equalIDs(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("unexpected member order %v", got)
	}
	if _, err := e.GetComponentMembers(context.Background(), 2); !domain.IsNotFound(err) {
		t.Fatalf("expected component not found, got %v", err)
	}
}

func TestOverviewStatsCountsIndependently(t *testing.T) {
	e := seedCatalog(t)
	stats, err := e.OverviewStats(context.Background())
	if err != nil {
		t.Fatalf("OverviewStats: %v", err)
	}
	want := domain.OverviewStats{TotalEnzymes: 7, TotalFamilies: 3, TotalComponents: 1, TotalVariants: 5}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestOverviewStatsEmptyCatalog(t *testing.T) {
	c := testutil.NewCatalog(t)
	stats, err := NewEngine(c.DB, sqlq.SQLite).OverviewStats(context.Background())
	if err != nil {
		t.Fatalf("OverviewStats: %v", err)
	}
	if stats != (domain.OverviewStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestFamilySummaries(t *testing.T) {
	e := seedCatalog(t)
	summaries, err := e.FamilySummaries(context.Background(), 1)
	if err != nil {
		t.Fatalf("FamilySummaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected two families, got %+v", summaries)
	}
	if summaries[0].Family != 10 || summaries[0].MemberCount != 3 || summaries[0].CentroidID == nil || *summaries[0].CentroidID != 1 {
		t.Fatalf("unexpected family 10 summary %+v", summaries[0])
	}
	if summaries[1].Family != 11 || summaries[1].MemberCount != 1 || *summaries[1].CentroidID != 4 {
		t.Fatalf("unexpected family 11 summary %+v", summaries[1])
	}
	if _, err := e.FamilySummaries(context.Background(), 9); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCheckCentroids(t *testing.T) {
	e := seedCatalog(t)
	violations, err := e.CheckCentroids(context.Background())
	if err != nil {
		t.Fatalf("CheckCentroids: %v", err)
	}
	if len(violations) != 0 {
		t.Fatalf("expected consistent catalog, got %+v", violations)
	}

	c := testutil.NewCatalog(t)
	c.Enzyme(1, "A").Enzyme(2, "B").Enzyme(3, "C").Enzyme(4, "D")
	c.Member(1, 20, nil, nil).Member(2, 20, nil, nil).Member(3, 21, testutil.F64(90), nil).Member(4, 22, nil, nil)
	violations, err = NewEngine(c.DB, sqlq.SQLite).CheckCentroids(context.Background())
	if err != nil {
		t.Fatalf("CheckCentroids: %v", err)
	}
	want := []domain.CentroidViolation{
		{Family: 20, CentroidCount: 2, MemberCount: 2},
		{Family: 21, CentroidCount: 0, MemberCount: 1},
	}
	if len(violations) != len(want) || violations[0] != want[0] || violations[1] != want[1] {
		t.Fatalf("expected %+v, got %+v", want, violations)
	}
}

func TestListEnzymesPostgresStatementShape(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	from := " FROM enzymes e LEFT JOIN family_membership f ON f.enzyme_id = e.enzyme_id WHERE f.family = $1 AND f.component IS NOT NULL"
	mock.ExpectQuery("SELECT COUNT(*)" + from).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT e.enzyme_id, e.accession, e.translated_sequence, f.family, f.family_percent_identity, f.component" +
		from + " ORDER BY e.enzyme_id ASC LIMIT $2 OFFSET $3").
		WithArgs(int64(10), 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"enzyme_id", "accession", "translated_sequence", "family", "family_percent_identity", "component"}).
			AddRow(int64(1), "WP_1", "MKT", int64(10), nil, int64(3)))

	yes := true
	page, err := NewEngine(db, sqlq.Postgres).ListEnzymes(context.Background(),
		domain.EnzymeFilter{Family: testutil.I64(10), HasComponent: &yes}, domain.Page{Limit: 20})
	if err != nil {
		t.Fatalf("ListEnzymes: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0].FamilyPercentIdentity != nil || *page.Rows[0].Component != 3 {
		t.Fatalf("unexpected rows %+v", page.Rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	boom := errors.New("connection refused")
	mock.ExpectQuery(".*").WillReturnError(boom)
	mock.ExpectQuery(".*").WillReturnError(boom)
	mock.ExpectQuery(".*").WillReturnError(boom)

	e := NewEngine(db, sqlq.Postgres)
	ctx := context.Background()
	if _, err := e.OverviewStats(ctx); !domain.IsStorage(err) || !errors.Is(err, boom) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if _, err := e.GetVariants(ctx, 1); !domain.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if _, err := e.ListEnzymes(ctx, domain.EnzymeFilter{}, domain.Page{}); !domain.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
}
