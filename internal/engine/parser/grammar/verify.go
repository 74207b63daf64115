package grammar

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

type VerificationIssue struct {
	Language     string
	ArtifactPath string
	ExpectedHash string
	ActualHash   string
	Reason       string
}

func (i VerificationIssue) String() string {
	if i.ArtifactPath == "" {
		return fmt.Sprintf("%s: %s", i.Language, i.Reason)
	}
	return fmt.Sprintf("%s (%s): %s", i.Language, i.ArtifactPath, i.Reason)
}

// VerifyArtifacts checks ABI allow-listing and sha256 checksums of every
// artifact relative to baseDir. Issues are sorted by language then reason.
func VerifyArtifacts(baseDir string, manifest Manifest) ([]VerificationIssue, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("baseDir must not be empty")
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("grammar base path is not a directory: %s", baseDir)
	}

	allowed := allowedSet(manifest)
	issues := make([]VerificationIssue, 0)
	for _, artifact := range manifest.Artifacts {
		if !allowed[artifact.ABIVersion] {
			issues = append(issues, VerificationIssue{
				Language: artifact.Language,
				Reason:   fmt.Sprintf("unsupported ABI version %d", artifact.ABIVersion),
			})
		}
		issues = append(issues, verifyArtifactHash(baseDir, artifact)...)
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Language != issues[j].Language {
			return issues[i].Language < issues[j].Language
		}
		return issues[i].Reason < issues[j].Reason
	})
	return issues, nil
}

// LoadVerified loads every artifact that passes verification. Artifacts with
// issues are skipped and reported; the caller decides whether that is fatal.
// With verify unset only the runtime ABI check applies.
func LoadVerified(baseDir string, manifest Manifest, verify bool) (map[string]*sitter.Language, []VerificationIssue, error) {
	var issues []VerificationIssue
	if verify {
		var err error
		issues, err = VerifyArtifacts(baseDir, manifest)
		if err != nil {
			return nil, nil, err
		}
	}

	rejected := make(map[string]bool, len(issues))
	for _, issue := range issues {
		rejected[issue.Language] = true
	}

	allowed := allowedSet(manifest)
	languages := make(map[string]*sitter.Language, len(manifest.Artifacts))
	for _, artifact := range manifest.Artifacts {
		if rejected[artifact.Language] {
			continue
		}
		lang, loadErr := LoadDynamic(filepath.Join(baseDir, artifact.SharedObjectPath), artifact.SymbolName())
		if loadErr != nil {
			issues = append(issues, VerificationIssue{
				Language:     artifact.Language,
				ArtifactPath: artifact.SharedObjectPath,
				Reason:       loadErr.Error(),
			})
			continue
		}
		if abi := int(lang.AbiVersion()); !allowed[abi] {
			issues = append(issues, VerificationIssue{
				Language:     artifact.Language,
				ArtifactPath: artifact.SharedObjectPath,
				Reason:       fmt.Sprintf("loaded grammar reports ABI %d, not allowed", abi),
			})
			continue
		}
		languages[artifact.Language] = lang
	}
	return languages, issues, nil
}

func allowedSet(manifest Manifest) map[int]bool {
	allowed := make(map[int]bool, len(manifest.AllowedABIVersions))
	for _, version := range manifest.AllowedABIVersions {
		allowed[version] = true
	}
	return allowed
}

func verifyArtifactHash(baseDir string, artifact Artifact) []VerificationIssue {
	data, err := os.ReadFile(filepath.Join(baseDir, artifact.SharedObjectPath))
	if err != nil {
		return []VerificationIssue{{
			Language:     artifact.Language,
			ArtifactPath: artifact.SharedObjectPath,
			ExpectedHash: artifact.SharedObjectHash,
			ActualHash:   "<missing>",
			Reason:       "artifact missing or unreadable",
		}}
	}

	actual := fmt.Sprintf("%x", sha256.Sum256(data))
	if actual == artifact.SharedObjectHash {
		return nil
	}
	return []VerificationIssue{{
		Language:     artifact.Language,
		ArtifactPath: artifact.SharedObjectPath,
		ExpectedHash: artifact.SharedObjectHash,
		ActualHash:   actual,
		Reason:       "checksum mismatch",
	}}
}
