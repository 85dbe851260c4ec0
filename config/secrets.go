package config

import "github.com/InterNetNews/inncore/errs"

// Secrets holds the cancel-lock secret sets parsed from
// inn-secrets.conf's "cancels { canlockadmin: [...]; canlockuser: [...]; }"
// block, per spec §4.C8/C10.
type Secrets struct {
	CancelLockAdmin []string
	CancelLockUser  []string
}

// ParseSecrets parses an inn-secrets.conf-shaped Block into Secrets.
func ParseSecrets(root *Block) (Secrets, error) {
	var s Secrets
	for _, b := range root.Blocks {
		if b.Name != "cancels" {
			continue
		}
		if v, ok := b.GetList("canlockadmin"); ok {
			s.CancelLockAdmin = v
		}
		if v, ok := b.GetList("canlockuser"); ok {
			s.CancelLockUser = v
		}
		return s, nil
	}
	return s, errs.New("config.ParseSecrets", errs.KindNotFound, nil)
}

// ParseSecretsFile opens and parses an inn-secrets.conf file.
func ParseSecretsFile(path string) (Secrets, error) {
	root, err := ParseFile(path)
	if err != nil {
		return Secrets{}, err
	}
	return ParseSecrets(root)
}
