package config

const (
	EnvPrefix = "SHOPFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "SHOPFRONT_APP_ENV"
	EnvPort     = "SHOPFRONT_APP_PORT"
	EnvLogLevel = "SHOPFRONT_LOG_LEVEL"

	EnvDBDSN  = "SHOPFRONT_DB_DSN"
	EnvDBHost = "SHOPFRONT_DB_HOST"
	EnvDBUser = "SHOPFRONT_DB_USER"
	EnvDBName = "SHOPFRONT_DB_NAME"

	EnvRedisURL = "SHOPFRONT_REDIS_URL"

	EnvUseSQLite = "SHOPFRONT_USE_SQLITE"

	EnvJWTSecret = "SHOPFRONT_JWT_SECRET"
	EnvJWTIssuer = "SHOPFRONT_JWT_ISSUER"

	EnvGCPProjectID = "SHOPFRONT_GCP_PROJECT_ID"

	EnvPubSubEventsTopic     = "SHOPFRONT_PUBSUB_EVENTS_TOPIC"
	EnvPubSubNotificationSub = "SHOPFRONT_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvPubSubAnalyticsSub    = "SHOPFRONT_PUBSUB_ANALYTICS_SUBSCRIPTION"

	EnvCheckoutShippingFee = "SHOPFRONT_CHECKOUT_SHIPPING_FEE"
	EnvCheckoutIntentTTL   = "SHOPFRONT_CHECKOUT_INTENT_TTL"

	EnvVNPayTmnCode    = "SHOPFRONT_VNPAY_TMN_CODE"
	EnvVNPayHashSecret = "SHOPFRONT_VNPAY_HASH_SECRET"
	EnvVNPayReturnURL  = "SHOPFRONT_VNPAY_RETURN_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
