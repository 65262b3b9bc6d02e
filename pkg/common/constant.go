package common

const (
	EnvKeyGoEnv string = "GO_ENV"

	EnvKeyRunIntegrationTests string = "RUN_INTEGRATION_TESTS"

	EnvKeyAccessKey string = "ECOFLOW_ACCESS_KEY"
	EnvKeySecretKey string = "ECOFLOW_SECRET_KEY"
	EnvKeyDeviceSN  string = "ECOFLOW_DEVICE_SN"
	EnvKeyAPIBase   string = "ECOFLOW_API_BASE"

	EnvKeyDBType string = "ECOWATCH_DB_TYPE"
	EnvKeyDBPath string = "ECOWATCH_DB_PATH"

	EnvKeyHTTPHostPort string = "ECOWATCH_HTTP_HOST_PORT"

	EnvKeyAMQPURL   string = "AMQP_URL"
	EnvKeyAMQPQueue string = "AMQP_QUEUE"

	EnvKeyInfluxURL    string = "INFLUX_URL"
	EnvKeyInfluxToken  string = "INFLUX_TOKEN"
	EnvKeyInfluxOrg    string = "INFLUX_ORG"
	EnvKeyInfluxBucket string = "INFLUX_BUCKET"

	LoggerNameScheduler     string = "scheduler"
	LoggerNamePipeline      string = "pipeline"
	LoggerNameStore         string = "store"
	LoggerNameAlerts        string = "alerts"
	LoggerNameQuota         string = "quota"
	LoggerNameNotify        string = "notify"
	LoggerNameExport        string = "export"
	LoggerNameConfig        string = "config"
	LoggerNameRestfulServer string = "restful_server"

	LoggerFieldCategory        string = "category"
	LoggerCategoryTick         string = "tick"
	LoggerCategoryMaintenance  string = "maintenance"
	LoggerCategoryAlert        string = "alert"
	LoggerCategoryRegistry     string = "registry"
	LoggerCategoryFetch        string = "fetch"
	LoggerCategoryRetention    string = "retention"
	LoggerCategoryRollup       string = "rollup"
	LoggerCategoryNotification string = "notification"
)
