package ddo

// MakeTestDDO returns a minimal valid dataset DDO for the given NFT, chain and
// datatoken. Used by tests across packages.
func MakeTestDDO(nftAddress string, chainID int64, datatoken string) DDO {
	return DDO{
		"@context":   []interface{}{"https://w3id.org/did/v1"},
		"id":         MakeDID(nftAddress, chainID),
		"version":    "4.1.0",
		"chainId":    chainID,
		"nftAddress": nftAddress,
		"metadata": map[string]interface{}{
			"created":     "2021-12-20T14:35:20Z",
			"updated":     "2021-12-20T14:35:20Z",
			"type":        TypeDataset,
			"name":        "Ocean protocol white paper",
			"description": "Ocean protocol white paper -- description",
			"author":      "Ocean Protocol Foundation Ltd.",
			"license":     "CC-BY",
			"tags":        []interface{}{"white-papers"},
		},
		"services": []interface{}{
			map[string]interface{}{
				"id":               "test_id",
				"type":             "access",
				"datatokenAddress": datatoken,
				"name":             "Download service",
				"files":            "encryptedFiles",
				"serviceEndpoint":  "http://172.15.0.4:8030",
				"timeout":          0,
			},
		},
	}
}
