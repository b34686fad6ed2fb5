package portal

// 错误 ID。带参数的 ID 在末尾拼接函数名、文件名或密钥名，各自独立地活跃与清除。
const (
	ErrIDUnableToRetrieveFunctionsList    = "unableToRetrieveFunctionsList"
	ErrIDDeserializingKudusFunctionList   = "deserializingKudusFunctionList"
	ErrIDUnableToRetrieveFunction         = "unableToRetrieveFunction"
	ErrIDUnableToCreateFunction           = "unableToCreateFunction"
	ErrIDUnableToUpdateFunction           = "unableToUpdateFunction"
	ErrIDUnableToDeleteFunction           = "unableToDeleteFunction"
	ErrIDUnableToRetrieveFileContent      = "unableToRetrieveFileContent"
	ErrIDUnableToSaveFileContent          = "unableToSaveFileContent"
	ErrIDUnableToDeleteFile               = "unableToDeleteFile"
	ErrIDUnableToRetrieveDirectoryContent = "unableToRetrieveDirectoryContent"
	ErrIDUnableToRetrieveRuntimeConfig    = "unableToRetrieveRuntimeConfig"
	ErrIDUnableToRetrieveSecretsFile      = "unableToRetrieveSecretsFileFromKudu"
	ErrIDUnableToRetrieveRuntimeKey       = "unableToRetrieveRuntimeKey"
	ErrIDUnableToDecryptKeys              = "unableToDecryptKeys"
	ErrIDUnableToRetrieveFunctionKeys     = "unableToRetrieveFunctionKeys"
	ErrIDUnableToCreateFunctionKey        = "unableToCreateFunctionKey"
	ErrIDUnableToDeleteFunctionKey        = "unableToDeleteFunctionKey"
	ErrIDUnableToRenewFunctionKey         = "unableToRenewFunctionKey"
	ErrIDFunctionRuntimeIsUnableToStart   = "functionRuntimeIsUnableToStart"
)

// 操作名，同时是缓存身份的操作部分
const (
	OpGetFunctions      = "getFunctions"
	OpGetFunction       = "getFunction"
	OpCreateFunction    = "createFunction"
	OpSaveFunction      = "saveFunction"
	OpDeleteFunction    = "deleteFunction"
	OpGetHostJSON       = "getHostJson"
	OpGetTemplates      = "getTemplates"
	OpGetLatestRuntime  = "getLatestRuntime"
	OpGetSecrets        = "getSecrets"
	OpGetVfsObjects     = "getVfsObjects"
	OpGetFileContent    = "getFileContent"
	OpSaveFile          = "saveFile"
	OpDeleteFile        = "deleteFile"
	OpGetMasterKey      = "getHostSecretsFromScm"
	OpGetLegacyMaster   = "legacyGetHostSecrets"
	OpGetHostKeys       = "getFunctionHostKeys"
	OpGetFunctionKeys   = "getFunctionKeys"
	OpCreateKey         = "createKey"
	OpDeleteKey         = "deleteKey"
	OpRenewKey          = "renewKey"
	OpGetHostErrors     = "getHostErrors"
	OpGetHostID         = "getFunctionHostId"
	OpGetFunctionErrors = "getFunctionErrors"
	OpRunFunction       = "runFunction"
	OpGetTrialResource  = "getTrialResource"
	OpCreateTrial       = "createTrialResource"
	OpUpdateFunction    = "updateFunction"
	OpSetSecrets        = "setSecrets"
	OpGetAPIProxies     = "getApiProxies"
	OpSaveAPIProxy      = "saveApiProxy"
)

// 运行结果中使用的固定文本
const (
	msgAuthEnabled     = "Running functions from the portal is not supported while authentication is enabled for the function app."
	msgErrorRunningFmt = "An error occurred while running function %s."
)
