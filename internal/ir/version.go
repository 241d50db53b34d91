package ir

// EngineVersion is recorded in violation details so reviewers can tell which
// build evaluated a rule.
const EngineVersion = "0.3.0"
