package chain

// Minimal ABIs of the contracts the indexer reads. Only the events and view
// methods in use are declared.

const erc721TemplateABI = `[
{"type":"event","name":"MetadataCreated","anonymous":false,"inputs":[
 {"name":"updatedBy","type":"address","indexed":true},
 {"name":"state","type":"uint8","indexed":false},
 {"name":"decryptorUrl","type":"string","indexed":false},
 {"name":"flags","type":"bytes","indexed":false},
 {"name":"data","type":"bytes","indexed":false},
 {"name":"metaDataHash","type":"bytes32","indexed":false},
 {"name":"timestamp","type":"uint256","indexed":false},
 {"name":"blockNumber","type":"uint256","indexed":false}]},
{"type":"event","name":"MetadataUpdated","anonymous":false,"inputs":[
 {"name":"updatedBy","type":"address","indexed":true},
 {"name":"state","type":"uint8","indexed":false},
 {"name":"decryptorUrl","type":"string","indexed":false},
 {"name":"flags","type":"bytes","indexed":false},
 {"name":"data","type":"bytes","indexed":false},
 {"name":"metaDataHash","type":"bytes32","indexed":false},
 {"name":"timestamp","type":"uint256","indexed":false},
 {"name":"blockNumber","type":"uint256","indexed":false}]},
{"type":"event","name":"MetadataState","anonymous":false,"inputs":[
 {"name":"updatedBy","type":"address","indexed":true},
 {"name":"state","type":"uint8","indexed":false},
 {"name":"timestamp","type":"uint256","indexed":false},
 {"name":"blockNumber","type":"uint256","indexed":false}]},
{"type":"event","name":"TokenURIUpdate","anonymous":false,"inputs":[
 {"name":"updatedBy","type":"address","indexed":true},
 {"name":"tokenURI","type":"string","indexed":false},
 {"name":"tokenID","type":"uint256","indexed":false},
 {"name":"timestamp","type":"uint256","indexed":false},
 {"name":"blockNumber","type":"uint256","indexed":false}]},
{"type":"event","name":"MetadataValidated","anonymous":false,"inputs":[
 {"name":"validator","type":"address","indexed":true},
 {"name":"metaDataHash","type":"bytes32","indexed":false},
 {"name":"v","type":"uint8","indexed":false},
 {"name":"r","type":"bytes32","indexed":false},
 {"name":"s","type":"bytes32","indexed":false}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]}
]`

const erc20TemplateABI = `[
{"type":"event","name":"OrderStarted","anonymous":false,"inputs":[
 {"name":"consumer","type":"address","indexed":true},
 {"name":"payer","type":"address","indexed":false},
 {"name":"amount","type":"uint256","indexed":false},
 {"name":"serviceIndex","type":"uint256","indexed":false},
 {"name":"timestamp","type":"uint256","indexed":false},
 {"name":"publishMarketAddress","type":"address","indexed":true},
 {"name":"blockNumber","type":"uint256","indexed":false}]},
{"type":"function","name":"getERC721Address","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const fixedRateExchangeABI = `[
{"type":"event","name":"ExchangeCreated","anonymous":false,"inputs":[
 {"name":"exchangeId","type":"bytes32","indexed":true},
 {"name":"baseToken","type":"address","indexed":true},
 {"name":"datatoken","type":"address","indexed":true},
 {"name":"exchangeOwner","type":"address","indexed":false},
 {"name":"fixedRate","type":"uint256","indexed":false}]},
{"type":"event","name":"ExchangeRateChanged","anonymous":false,"inputs":[
 {"name":"exchangeId","type":"bytes32","indexed":true},
 {"name":"exchangeOwner","type":"address","indexed":true},
 {"name":"newRate","type":"uint256","indexed":false}]},
{"type":"function","name":"getExchange","stateMutability":"view","inputs":[{"name":"exchangeId","type":"bytes32"}],"outputs":[
 {"name":"exchangeOwner","type":"address"},
 {"name":"datatoken","type":"address"},
 {"name":"dtDecimals","type":"uint256"},
 {"name":"baseToken","type":"address"},
 {"name":"btDecimals","type":"uint256"},
 {"name":"fixedRate","type":"uint256"},
 {"name":"active","type":"bool"}]}
]`

const dispenserABI = `[
{"type":"event","name":"DispenserCreated","anonymous":false,"inputs":[
 {"name":"datatokenAddress","type":"address","indexed":true},
 {"name":"owner","type":"address","indexed":true},
 {"name":"maxTokens","type":"uint256","indexed":false},
 {"name":"maxBalance","type":"uint256","indexed":false},
 {"name":"allowedSwapper","type":"address","indexed":false}]}
]`
