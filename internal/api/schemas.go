package api

// Money and prices travel as decimal strings.
const (
	amountPattern   = `"^[0-9]+(\\.[0-9]+)?$"`
	assetPattern    = `"^[A-Z]{2,10}$"`
	// Client references may not use the namespaces the server allocates.
	referenceSchema = `{"type": "string", "minLength": 1, "maxLength": 128, "not": {"pattern": "(?i)^(p2p|limit|txn|dep|wd|swap)_"}}`
)

var requestSchemas = map[string]string{
	"transfer": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["to_user_id", "asset_id", "amount"],
  "properties": {
    "to_user_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "asset_id": {"type": "string", "pattern": ` + assetPattern + `},
    "amount": {"type": "string", "pattern": ` + amountPattern + `},
    "reference_id": ` + referenceSchema + `,
    "description": {"type": "string", "maxLength": 255}
  }
}`,
	"deposit": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["user_id", "asset_id", "amount"],
  "properties": {
    "user_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "asset_id": {"type": "string", "pattern": ` + assetPattern + `},
    "amount": {"type": "string", "pattern": ` + amountPattern + `},
    "reference_id": ` + referenceSchema + `,
    "description": {"type": "string", "maxLength": 255}
  }
}`,
	"withdraw": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["asset_id", "amount"],
  "properties": {
    "asset_id": {"type": "string", "pattern": ` + assetPattern + `},
    "amount": {"type": "string", "pattern": ` + amountPattern + `},
    "reference_id": ` + referenceSchema + `,
    "description": {"type": "string", "maxLength": 255}
  }
}`,
	"create_ad": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["side", "asset_id", "fiat_asset_id", "price", "min_limit", "max_limit", "available_amount"],
  "properties": {
    "side": {"type": "string", "enum": ["BUY", "SELL"]},
    "asset_id": {"type": "string", "pattern": ` + assetPattern + `},
    "fiat_asset_id": {"type": "string", "pattern": ` + assetPattern + `},
    "price": {"type": "string", "pattern": ` + amountPattern + `},
    "min_limit": {"type": "string", "pattern": ` + amountPattern + `},
    "max_limit": {"type": "string", "pattern": ` + amountPattern + `},
    "available_amount": {"type": "string", "pattern": ` + amountPattern + `},
    "payment_methods": {"type": "array", "maxItems": 10, "items": {"type": "string", "minLength": 1, "maxLength": 64}}
  }
}`,
	"create_order": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["ad_id", "fiat_amount"],
  "properties": {
    "ad_id": {"type": "string", "minLength": 1},
    "fiat_amount": {"type": "string", "pattern": ` + amountPattern + `}
  }
}`,
	"dispute": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["reason"],
  "properties": {
    "reason": {"type": "string", "minLength": 1, "maxLength": 1000}
  }
}`,
	"resolve_dispute": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["outcome"],
  "properties": {
    "outcome": {"type": "string", "enum": ["BUYER", "SELLER"]}
  }
}`,
	"market_order": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["from_asset", "to_asset", "amount"],
  "properties": {
    "from_asset": {"type": "string", "pattern": ` + assetPattern + `},
    "to_asset": {"type": "string", "pattern": ` + assetPattern + `},
    "amount": {"type": "string", "pattern": ` + amountPattern + `},
    "reference_id": ` + referenceSchema + `
  }
}`,
	"limit_order": `{
  "type": "object",
  "additionalProperties": false,
  "required": ["side", "base_asset", "quote_asset", "amount", "limit_price"],
  "properties": {
    "side": {"type": "string", "enum": ["BUY", "SELL"]},
    "base_asset": {"type": "string", "pattern": ` + assetPattern + `},
    "quote_asset": {"type": "string", "pattern": ` + assetPattern + `},
    "amount": {"type": "string", "pattern": ` + amountPattern + `},
    "limit_price": {"type": "string", "pattern": ` + amountPattern + `}
  }
}`,
}
