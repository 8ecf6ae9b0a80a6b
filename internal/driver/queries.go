package driver

// SchemaQueries are applied once at startup.
var SchemaQueries = []string{
	"CREATE CONSTRAINT ON (c:Correlation) ASSERT c.owner, c.search_id, c.candidate_id IS UNIQUE;",
	"CREATE CONSTRAINT ON (p:CriteriaProfile) ASSERT p.owner IS UNIQUE;",
	"CREATE INDEX ON :Correlation(owner);",
	"CREATE INDEX ON :Correlation(search_id);",
	"CREATE INDEX ON :Correlation(decided_at);",
}

const (
	// UpsertCorrelationsQuery writes discovery-owned properties only.
	UpsertCorrelationsQuery = `
		UNWIND $rows AS row
		MERGE (c:Correlation {owner: $owner, search_id: $search_id, candidate_id: row.candidate_id})
		ON CREATE SET c.id = row.id,
			c.created_at = $now
		SET c.title = row.title,
			c.image_url = row.image_url,
			c.search_image_url = row.search_image_url,
			c.search_title = row.search_title,
			c.kind = row.kind,
			c.provenance = row.provenance,
			c.url = row.url,
			c.confidence = row.confidence,
			c.updated_at = $now
		RETURN count(c) AS written
	`

	ListCorrelationsQuery = `
		MATCH (c:Correlation {owner: $owner, search_id: $search_id})
		WITH c ORDER BY c.kind DESC, c.candidate_id
		RETURN properties(c) AS props
	`

	GetCorrelationQuery = `
		MATCH (c:Correlation {owner: $owner, search_id: $search_id, candidate_id: $candidate_id})
		RETURN properties(c) AS props
	`

	SetDecisionQuery = `
		MATCH (c:Correlation {owner: $owner, search_id: $search_id, candidate_id: $candidate_id})
		SET c.decision = $decision,
			c.decision_reason = $reason,
			c.decided_at = $decided_at
		RETURN c.id AS id
	`

	ClearDecisionQuery = `
		MATCH (c:Correlation {owner: $owner, search_id: $search_id, candidate_id: $candidate_id})
		REMOVE c.decision, c.decision_reason, c.decided_at
		RETURN c.id AS id
	`

	SetAvailabilityQuery = `
		MATCH (c:Correlation {owner: $owner, search_id: $search_id, candidate_id: $candidate_id})
		SET c.availability = $availability,
			c.availability_checked_at = $checked_at
		RETURN c.id AS id
	`

	// MarkPublishedQuery keeps the first timestamp recorded for a marketplace.
	MarkPublishedQuery = `
		MATCH (c:Correlation {owner: $owner, search_id: $search_id, candidate_id: $candidate_id})
		SET c.published_us = CASE WHEN $marketplace = 'us' THEN coalesce(c.published_us, $at) ELSE c.published_us END,
			c.published_ca = CASE WHEN $marketplace = 'ca' THEN coalesce(c.published_ca, $at) ELSE c.published_ca END,
			c.published_uk = CASE WHEN $marketplace = 'uk' THEN coalesce(c.published_uk, $at) ELSE c.published_uk END,
			c.published_de = CASE WHEN $marketplace = 'de' THEN coalesce(c.published_de, $at) ELSE c.published_de END
		RETURN c.id AS id
	`

	DecidedHistoryQuery = `
		MATCH (c:Correlation {owner: $owner})
		WHERE c.decision IS NOT NULL
		WITH c ORDER BY c.decided_at DESC
		RETURN properties(c) AS props
	`

	GetProfileQuery = `
		MATCH (p:CriteriaProfile {owner: $owner})
		RETURN p.criteria AS criteria, p.enabled AS enabled, p.based_on_count AS based_on_count, p.regenerated_at AS regenerated_at
	`

	SaveProfileQuery = `
		MERGE (p:CriteriaProfile {owner: $owner})
		SET p.criteria = $criteria,
			p.enabled = $enabled,
			p.based_on_count = $based_on_count,
			p.regenerated_at = $regenerated_at
		RETURN p.owner AS owner
	`

	SetProfileEnabledQuery = `
		MATCH (p:CriteriaProfile {owner: $owner})
		SET p.enabled = $enabled
		RETURN p.owner AS owner
	`
)
