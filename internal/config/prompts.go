package config

// DefaultIdentifierPattern matches 10-character ASIN-style ids with a leading B.
// Override discovery.identifier_pattern for longer ids.
const DefaultIdentifierPattern = `^B[0-9A-Z]{9}$`

// Section headers every criteria block must carry.
const (
	AcceptHeader = "ACCEPT IF:"
	RejectHeader = "REJECT IF:"
)

const DefaultCriteria = `ACCEPT IF:
- The candidate is the same product as the original, possibly in a different color, size, pack count or style.
- Brand and product line match, and only cosmetic or size attributes differ.

REJECT IF:
- The candidate is an accessory, part, refill or add-on for the original rather than the product itself.
- The candidate belongs to a different product category even when the brand matches.
- The candidate is a different model year or a different generation of the product.
- The candidate is a bundle that contains the original together with other products.`

// DefaultDecisionPrompt is filled with: original title, original brand,
// candidate title, candidate brand, criteria block.
const DefaultDecisionPrompt = `You compare two marketplace listings and decide whether the CANDIDATE is the same product as the ORIGINAL or a variant of it.

ORIGINAL
Title: %s
Brand: %s

CANDIDATE
Title: %s
Brand: %s

Criteria:
%s

Answer with exactly one word: YES or NO.`

// DefaultRegeneratePrompt is filled with: default criteria, accepted examples,
// declined examples, decline reason tally.
const DefaultRegeneratePrompt = `You maintain the matching criteria a seller uses to decide whether two marketplace listings are the same product.

Current criteria:
%s

Listings the seller ACCEPTED as matches:
%s

Listings the seller DECLINED:
%s

Reasons the seller gave for declining (count):
%s

Rewrite the criteria so they reflect this seller's decisions. Keep exactly two sections titled "ACCEPT IF:" and "REJECT IF:" with one bullet per line. Add, remove or tighten bullets based on the examples. Do not mention individual listings.

Return a JSON object: {"criteria": "<the full criteria text>"}`
