package protocol

// Message type constants.
const (
	// Robot -> Hub (telemetry topic)
	TypeTelemetryUpdate = "telemetry.update"
	TypeMatchUpdate     = "match.update"

	// Operator -> Hub (command topic)
	TypeRobotCommand  = "robot.command"
	TypeEmergencyStop = "robot.estop"
	TypeModeChange    = "robot.mode"

	// Hub -> anyone (snapshot topic)
	TypeTelemetrySnapshot = "telemetry.snapshot"
	TypeHubHeartbeat      = "hub.heartbeat"
)

// Roles for Address.Role.
const (
	RoleRobot    = "robot"
	RoleHub      = "hub"
	RoleOperator = "operator"
)

// Protocol version.
const Version = 1
