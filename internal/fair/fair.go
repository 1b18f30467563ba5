package fair

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
)

// RollRange is the exclusive upper bound of a roll.
const RollRange = 10000

// Proof lets a player verify a roll after the server seed is revealed:
// recompute HMAC-SHA256(serverSeed, "clientSeed:nonce") and check both
// the roll and that SHA256(serverSeed) matches the pre-committed hash.
type Proof struct {
	SeedHash   string `json:"seed_hash"`
	ClientSeed string `json:"client_seed"`
	Nonce      int64  `json:"nonce"`
}

// Generator produces rolls from a committed server seed. The seed hash
// is public before any bet; the seed itself only after rotation.
type Generator struct {
	mu       sync.Mutex
	seed     []byte
	seedHash string
	nonce    int64
}

func NewGenerator() (*Generator, error) {
	g := &Generator{}
	if _, err := g.rotateLocked(); err != nil {
		return nil, err
	}
	return g, nil
}

// SeedHash returns the current commitment.
func (g *Generator) SeedHash() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seedHash
}

// Roll derives the next outcome for clientSeed and returns it with its
// proof. Nonce increments per call, so identical client seeds still get
// distinct rolls.
func (g *Generator) Roll(clientSeed string) (int64, Proof) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nonce++
	roll := deriveRoll(g.seed, clientSeed, g.nonce)
	return roll, Proof{SeedHash: g.seedHash, ClientSeed: clientSeed, Nonce: g.nonce}
}

// Rotate reveals the old server seed and commits to a fresh one.
// Returns the revealed seed (hex) so it can be published next to the
// old hash.
func (g *Generator) Rotate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rotateLocked()
}

func (g *Generator) rotateLocked() (string, error) {
	revealed := hex.EncodeToString(g.seed)

	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return "", fmt.Errorf("fair: seed generation: %w", err)
	}
	sum := sha256.Sum256(seed)
	g.seed = seed
	g.seedHash = hex.EncodeToString(sum[:])
	g.nonce = 0
	return revealed, nil
}

func deriveRoll(serverSeed []byte, clientSeed string, nonce int64) int64 {
	mac := hmac.New(sha256.New, serverSeed)
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	digest := mac.Sum(nil)
	return int64(binary.BigEndian.Uint64(digest[:8]) % RollRange)
}

// Verify recomputes a published roll from a revealed server seed.
func Verify(serverSeedHex, clientSeed string, nonce, roll int64) (bool, error) {
	seed, err := hex.DecodeString(serverSeedHex)
	if err != nil {
		return false, fmt.Errorf("fair: decode server seed: %w", err)
	}
	return deriveRoll(seed, clientSeed, nonce) == roll, nil
}

// SeedMatchesHash checks a revealed seed against its commitment.
func SeedMatchesHash(serverSeedHex, seedHash string) (bool, error) {
	seed, err := hex.DecodeString(serverSeedHex)
	if err != nil {
		return false, fmt.Errorf("fair: decode server seed: %w", err)
	}
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:]) == seedHash, nil
}
