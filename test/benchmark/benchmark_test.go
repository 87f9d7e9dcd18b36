package benchmark

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/iaprender-user-sync/internal/config"
	"github.com/iaprender-user-sync/internal/mocks"
	"github.com/iaprender-user-sync/internal/models"
	"github.com/iaprender-user-sync/internal/normalize"
	"github.com/iaprender-user-sync/internal/service"
	"github.com/iaprender-user-sync/internal/validation"
	"github.com/rs/zerolog"
)

const poolSize = 1000

var groupSets = [][]string{
	{"Alunos"},
	{"Professores"},
	{"Professores", "Diretores"},
	{"GestorMunicipal"},
	{"AdminMaster", "Professor"},
	nil,
}

func testIdentity(i int) *models.IdentityRecord {
	sub := fmt.Sprintf("0b6e4d2a-0000-4000-8000-%012d", i)
	return &models.IdentityRecord{
		ExternalID:   sub,
		Username:     fmt.Sprintf("user%06d", i),
		Enabled:      true,
		AccountState: models.AccountStateConfirmed,
		Attributes: map[string]string{
			normalize.AttrSub:             sub,
			normalize.AttrEmail:           fmt.Sprintf("user%06d@escola.gov.br", i),
			normalize.AttrGivenName:       "Maria",
			normalize.AttrFamilyName:      fmt.Sprintf("Souza %d", i),
			normalize.DefaultOrgAttribute: fmt.Sprintf("%d", 1+i%40),
		},
	}
}

func populatedDirectory() *mocks.MockDirectory {
	dir := mocks.NewMockDirectory()
	for i := 0; i < poolSize; i++ {
		dir.Add(testIdentity(i), groupSets[i%len(groupSets)]...)
	}
	return dir
}

// BenchmarkNormalize benchmarks mapping one directory record to a canonical user
func BenchmarkNormalize(b *testing.B) {
	n := normalize.New(normalize.DefaultOrgAttribute)
	identity := testIdentity(42)
	groups := []string{"Professores", "Diretores"}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		n.Normalize(identity, groups, true)
	}
}

// BenchmarkRoleFromGroups benchmarks role priority resolution
func BenchmarkRoleFromGroups(b *testing.B) {
	groups := []string{"Turma2024", "Alunos", "Professores", "GestorMunicipal"}

	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		normalize.RoleFromGroups(groups)
	}
}

// BenchmarkSyncAll benchmarks a full run against in-memory directory and store
func BenchmarkSyncAll(b *testing.B) {
	dir := populatedDirectory()
	users := mocks.NewMockUserRepository()
	cfg := &config.Config{
		Directory: config.DirectoryConfig{OrgAttribute: normalize.DefaultOrgAttribute},
		Sync:      config.SyncConfig{GroupFailurePolicy: config.GroupPolicyDefault},
	}
	svc := service.NewSyncService(dir, users, cfg, zerolog.Nop())

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		summary, err := svc.SyncAll(context.Background(), nil)
		if err != nil {
			b.Fatal(err)
		}
		if summary.Succeeded != poolSize {
			b.Fatalf("expected %d synced, got %d", poolSize, summary.Succeeded)
		}
	}

	b.ReportMetric(float64(poolSize*b.N)/b.Elapsed().Seconds(), "identities/sec")
}

// BenchmarkStreamUsers benchmarks the NDJSON export of synchronized users
func BenchmarkStreamUsers(b *testing.B) {
	users := mocks.NewMockUserRepository()
	n := normalize.New(normalize.DefaultOrgAttribute)
	for i := 0; i < poolSize; i++ {
		users.Persist(context.Background(), n.Normalize(testIdentity(i), groupSets[i%len(groupSets)], true))
	}
	svc := service.NewExportService(users, zerolog.Nop())

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		if err := svc.StreamUsers(context.Background(), w, "ndjson"); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportMetric(float64(poolSize*b.N)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkValidateUsername benchmarks request validation
func BenchmarkValidateUsername(b *testing.B) {
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		validation.ValidateUsername("maria.souza@escola.gov.br")
	}
}

// BenchmarkRunSemaphore benchmarks the run processor's slot acquire/release
func BenchmarkRunSemaphore(b *testing.B) {
	sem := make(chan struct{}, 4)

	b.ReportAllocs()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			sem <- struct{}{}
			<-sem
		}
	})
}
